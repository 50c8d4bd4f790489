package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists generated SOAP notes and advice so they survive a
// restart and can be reviewed later.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// GetPage returns the stored notes for a page in their original order.  The
// boolean is false when the page has never been saved.
func (r *Repository) GetPage(ctx context.Context, page, size int) ([]string, bool, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT note
         FROM soap_notes
         WHERE page = $1 AND size = $2
         ORDER BY position ASC`,
		page, size,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var notes []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, false, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return notes, len(notes) > 0, nil
}

// SavePage replaces the stored notes of a page in one transaction.
func (r *Repository) SavePage(ctx context.Context, page, size int, notes []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM soap_notes WHERE page = $1 AND size = $2`,
		page, size,
	); err != nil {
		return fmt.Errorf("clear page %d/%d: %w", page, size, err)
	}
	for i, n := range notes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO soap_notes (id, page, size, position, note)
             VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), page, size, i, n,
		); err != nil {
			return fmt.Errorf("insert note %d of page %d/%d: %w", i, page, size, err)
		}
	}
	return tx.Commit()
}

// RecordAdvice keeps an audit row for every advice response.
func (r *Repository) RecordAdvice(ctx context.Context, requestID string, carePlans int, advice string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO advice_requests (id, request_id, care_plans, advice)
         VALUES ($1, $2, $3, $4)`,
		uuid.New(), requestID, carePlans, advice,
	)
	return err
}
