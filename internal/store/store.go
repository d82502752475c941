// Package store provides storage backends for VentaBot.
//
// It persists customer conversation contexts, payment orders and the rolling
// conversation cache. SQLite is the default backend; PostgreSQL is available
// for deployments that already run one.
package store

import "github.com/ventanet/ventabot/internal/models"

// Store defines the persistence operations used by the bot.
type Store interface {
	// CreatePendingOrder inserts a new order with status pending and returns
	// its generated identifier.
	CreatePendingOrder(o models.Order) (int64, error)

	// GetOrder loads an order by ID. Returns models.ErrOrderNotFound when no
	// such order exists.
	GetOrder(id int64) (*models.Order, error)

	// SetOrderStatus resolves a pending order. The transition is single-use:
	// resolving an already-resolved order returns models.ErrOrderResolved and
	// leaves the stored status untouched.
	SetOrderStatus(id int64, status models.OrderStatus) error

	// ListPendingOrders returns every order still awaiting operator review,
	// oldest first.
	ListPendingOrders() ([]models.Order, error)

	// GetContext loads a customer context. Returns models.ErrContextNotFound
	// when the customer has no context yet.
	GetContext(phone string) (*models.CustomerContext, error)

	// UpsertContext inserts or updates a customer context keyed by phone.
	UpsertContext(c models.CustomerContext) error

	// AppendTurn appends one exchange to the conversation cache.
	AppendTurn(t models.ConversationTurn) error

	// RecentTurns returns up to limit most recent turns for the customer in
	// chronological order (oldest first).
	RecentTurns(phone string, limit int) ([]models.ConversationTurn, error)

	// Close releases the underlying database handle.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN: a file path for SQLite, a connection string
// for PostgreSQL.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
