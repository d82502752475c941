// Package store provides storage backends for VentaBot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ventanet/ventabot/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists bot state in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN and runs
// migrations on open.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("store.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("store.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("store.NewPostgresStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("store.NewPostgresStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreatePendingOrder inserts a new pending order and returns its ID.
func (s *PostgresStore) CreatePendingOrder(o models.Order) (int64, error) {
	if o.Phone == "" {
		return 0, models.ErrEmptyPhone
	}
	if o.Days <= 0 {
		return 0, models.ErrInvalidDays
	}
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO orders (phone, days, status, proof_url, account, plan, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		o.Phone, o.Days, models.OrderStatusPending, nilIfEmpty(o.ProofURL), nilIfEmpty(o.Account), nilIfEmpty(o.Plan), time.Now(),
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore.CreatePendingOrder failed", "error", err, "phone", o.Phone)
		return 0, fmt.Errorf("failed to insert order for %s: %w", o.Phone, err)
	}
	slog.Debug("PostgresStore.CreatePendingOrder succeeded", "orderID", id, "phone", o.Phone, "days", o.Days)
	return id, nil
}

// GetOrder loads an order by ID.
func (s *PostgresStore) GetOrder(id int64) (*models.Order, error) {
	row := s.db.QueryRow(
		`SELECT id, phone, days, status, proof_url, account, plan, created_at, resolved_at FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetOrder failed", "error", err, "orderID", id)
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &o, nil
}

// SetOrderStatus resolves a pending order with a single-use guarded update.
func (s *PostgresStore) SetOrderStatus(id int64, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) || status == models.OrderStatusPending {
		return fmt.Errorf("invalid target order status: %s", status)
	}
	res, err := s.db.Exec(
		`UPDATE orders SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4`,
		status, time.Now(), id, models.OrderStatusPending,
	)
	if err != nil {
		slog.Error("PostgresStore.SetOrderStatus failed", "error", err, "orderID", id)
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
	slog.Info("PostgresStore.SetOrderStatus: order resolved", "orderID", id, "status", status)
	return nil
}

// ListPendingOrders returns every pending order, oldest first.
func (s *PostgresStore) ListPendingOrders() ([]models.Order, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, days, status, proof_url, account, plan, created_at, resolved_at
		 FROM orders WHERE status = $1 ORDER BY id`, models.OrderStatusPending)
	if err != nil {
		slog.Error("PostgresStore.ListPendingOrders query failed", "error", err)
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
func (s *PostgresStore) GetContext(phone string) (*models.CustomerContext, error) {
	row := s.db.QueryRow(
		`SELECT phone, last_account, requested_days, state, updated_at FROM customer_contexts WHERE phone = $1`, phone)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrContextNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetContext failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load context for %s: %w", phone, err)
	}
	return &c, nil
}

// UpsertContext inserts or updates a customer context.
func (s *PostgresStore) UpsertContext(c models.CustomerContext) error {
	if c.Phone == "" {
		return models.ErrEmptyPhone
	}
	if c.State == "" {
		c.State = models.StateIdle
	}
	_, err := s.db.Exec(
		`INSERT INTO customer_contexts (phone, last_account, requested_days, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone) DO UPDATE SET
		   last_account = EXCLUDED.last_account,
		   requested_days = EXCLUDED.requested_days,
		   state = EXCLUDED.state,
		   updated_at = EXCLUDED.updated_at`,
		c.Phone, nilIfEmpty(c.LastAccount), nilIfZero(c.RequestedDays), c.State, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore.UpsertContext failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to upsert context for %s: %w", c.Phone, err)
	}
	slog.Debug("PostgresStore.UpsertContext succeeded", "phone", c.Phone, "state", c.State)
	return nil
}

// AppendTurn appends one exchange to the conversation cache.
func (s *PostgresStore) AppendTurn(t models.ConversationTurn) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation_turns (phone, user_message, bot_reply, tokens_used, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.Phone, t.UserMessage, t.BotReply, t.TokensUsed, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore.AppendTurn failed", "error", err, "phone", t.Phone)
		return fmt.Errorf("failed to insert turn for %s: %w", t.Phone, err)
	}
	return nil
}

// RecentTurns returns up to limit most recent turns in chronological order.
func (s *PostgresStore) RecentTurns(phone string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, user_message, bot_reply, tokens_used, created_at
		 FROM conversation_turns WHERE phone = $1 ORDER BY id DESC LIMIT $2`, phone, limit)
	if err != nil {
		slog.Error("PostgresStore.RecentTurns query failed", "error", err, "phone", phone)
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
