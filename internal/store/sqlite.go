// Package store provides storage backends for VentaBot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/ventanet/ventabot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists bot state in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the database file; its directory is created when
// missing, and migrations run on every open.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("store.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("store.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("store.NewSQLiteStore: failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("store.NewSQLiteStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("store.NewSQLiteStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreatePendingOrder inserts a new pending order and returns its ID.
func (s *SQLiteStore) CreatePendingOrder(o models.Order) (int64, error) {
	if o.Phone == "" {
		return 0, models.ErrEmptyPhone
	}
	if o.Days <= 0 {
		return 0, models.ErrInvalidDays
	}
	res, err := s.db.Exec(
		`INSERT INTO orders (phone, days, status, proof_url, account, plan, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Phone, o.Days, models.OrderStatusPending, nilIfEmpty(o.ProofURL), nilIfEmpty(o.Account), nilIfEmpty(o.Plan), time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore.CreatePendingOrder failed", "error", err, "phone", o.Phone)
		return 0, fmt.Errorf("failed to insert order for %s: %w", o.Phone, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read order id: %w", err)
	}
	slog.Debug("SQLiteStore.CreatePendingOrder succeeded", "orderID", id, "phone", o.Phone, "days", o.Days)
	return id, nil
}

// GetOrder loads an order by ID.
func (s *SQLiteStore) GetOrder(id int64) (*models.Order, error) {
	row := s.db.QueryRow(
		`SELECT id, phone, days, status, proof_url, account, plan, created_at, resolved_at FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetOrder failed", "error", err, "orderID", id)
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &o, nil
}

// SetOrderStatus resolves a pending order. The WHERE clause enforces the
// single-use transition at the database, so concurrent button replays cannot
// double-resolve.
func (s *SQLiteStore) SetOrderStatus(id int64, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) || status == models.OrderStatusPending {
		return fmt.Errorf("invalid target order status: %s", status)
	}
	res, err := s.db.Exec(
		`UPDATE orders SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, time.Now(), id, models.OrderStatusPending,
	)
	if err != nil {
		slog.Error("SQLiteStore.SetOrderStatus failed", "error", err, "orderID", id)
		return fmt.Errorf("failed to update order %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetOrder(id); err != nil {
			return err
		}
		return models.ErrOrderResolved
	}
	slog.Info("SQLiteStore.SetOrderStatus: order resolved", "orderID", id, "status", status)
	return nil
}

// ListPendingOrders returns every pending order, oldest first.
func (s *SQLiteStore) ListPendingOrders() ([]models.Order, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, days, status, proof_url, account, plan, created_at, resolved_at
		 FROM orders WHERE status = ? ORDER BY id`, models.OrderStatusPending)
	if err != nil {
		slog.Error("SQLiteStore.ListPendingOrders query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return orders, nil
}

// GetContext loads a customer context by phone.
func (s *SQLiteStore) GetContext(phone string) (*models.CustomerContext, error) {
	row := s.db.QueryRow(
		`SELECT phone, last_account, requested_days, state, updated_at FROM customer_contexts WHERE phone = ?`, phone)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrContextNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetContext failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load context for %s: %w", phone, err)
	}
	return &c, nil
}

// UpsertContext inserts or updates a customer context.
func (s *SQLiteStore) UpsertContext(c models.CustomerContext) error {
	if c.Phone == "" {
		return models.ErrEmptyPhone
	}
	if c.State == "" {
		c.State = models.StateIdle
	}
	_, err := s.db.Exec(
		`INSERT INTO customer_contexts (phone, last_account, requested_days, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(phone) DO UPDATE SET
		   last_account = excluded.last_account,
		   requested_days = excluded.requested_days,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		c.Phone, nilIfEmpty(c.LastAccount), nilIfZero(c.RequestedDays), c.State, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore.UpsertContext failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to upsert context for %s: %w", c.Phone, err)
	}
	slog.Debug("SQLiteStore.UpsertContext succeeded", "phone", c.Phone, "state", c.State)
	return nil
}

// AppendTurn appends one exchange to the conversation cache.
func (s *SQLiteStore) AppendTurn(t models.ConversationTurn) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation_turns (phone, user_message, bot_reply, tokens_used, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.Phone, t.UserMessage, t.BotReply, t.TokensUsed, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore.AppendTurn failed", "error", err, "phone", t.Phone)
		return fmt.Errorf("failed to insert turn for %s: %w", t.Phone, err)
	}
	return nil
}

// RecentTurns returns up to limit most recent turns in chronological order.
func (s *SQLiteStore) RecentTurns(phone string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, user_message, bot_reply, tokens_used, created_at
		 FROM conversation_turns WHERE phone = ? ORDER BY id DESC LIMIT ?`, phone, limit)
	if err != nil {
		slog.Error("SQLiteStore.RecentTurns query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query turns for %s: %w", phone, err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		if err := rows.Scan(&t.ID, &t.Phone, &t.UserMessage, &t.BotReply, &t.TokensUsed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	reverseTurns(turns)
	return turns, nil
}
