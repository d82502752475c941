package store

import (
	"database/sql"

	"github.com/ventanet/ventabot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil if n is zero, otherwise returns n.
// Used for nullable integer columns.
func nilIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder scans an Order from a row with the canonical column order:
// id, phone, days, status, proof_url, account, plan, created_at, resolved_at.
func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var proofURL, account, plan sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&o.ID, &o.Phone, &o.Days, &o.Status, &proofURL, &account, &plan, &o.CreatedAt, &resolvedAt)
	if err != nil {
		return o, err
	}
	o.ProofURL = proofURL.String
	o.Account = account.String
	o.Plan = plan.String
	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}
	return o, nil
}

// scanContext scans a CustomerContext from a row with the canonical column
// order: phone, last_account, requested_days, state, updated_at.
func scanContext(row rowScanner) (models.CustomerContext, error) {
	var c models.CustomerContext
	var lastAccount sql.NullString
	var requestedDays sql.NullInt64
	err := row.Scan(&c.Phone, &lastAccount, &requestedDays, &c.State, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.LastAccount = lastAccount.String
	c.RequestedDays = int(requestedDays.Int64)
	return c, nil
}

// reverseTurns flips a newest-first slice into chronological order in place.
func reverseTurns(turns []models.ConversationTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
