package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
	"github.com/leadengine/syncgateway/go/internal/sqlutil"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	sqlutil.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one recorded closure decision or eviction.
type Entry struct {
	ID         uuid.UUID          `json:"id"`
	LeadID     string             `json:"leadId"`
	Vertical   string             `json:"vertical,omitempty"`
	Kind       auction.ChangeKind `json:"kind"`
	Outcome    auction.Outcome    `json:"outcome,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Journal persists closure decisions to Postgres.
type Journal struct {
	db DB
}

func New(db DB) *Journal {
	return &Journal{db: db}
}

// Journaled reports whether a change kind is recorded.
func Journaled(kind auction.ChangeKind) bool {
	switch kind {
	case auction.ChangeClosed, auction.ChangeUpgraded, auction.ChangeCloseDropped, auction.ChangeEvicted:
		return true
	}
	return false
}

// EnsureSchema creates the journal table and its index if missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	return sqlutil.Run(ctx, j.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create auction_closures: %w", err)
		}
		if _, err := tx.Exec(ctx, createIndexSQL); err != nil {
			return fmt.Errorf("create auction_closures index: %w", err)
		}
		return nil
	})
}

// Record inserts an entry, assigning an id when it has none.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, err := j.db.Exec(ctx, insertSQL,
		e.ID,
		e.LeadID,
		sqlutil.ToText(e.Vertical),
		string(e.Kind),
		sqlutil.ToText(string(e.Outcome)),
		e.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert closure for lead %s: %w", e.LeadID, err)
	}

	log.Debug().
		Str("lead_id", e.LeadID).
		Str("kind", string(e.Kind)).
		Str("outcome", string(e.Outcome)).
		Msg("closure recorded")
	return nil
}

// Recent returns the newest entries first. limit is clamped to (0, MaxLimit].
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.Query(ctx, recentSQL, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent closures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			vertical pgtype.Text
			kind     string
			outcome  pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &vertical, &kind, &outcome, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		e.Vertical = sqlutil.FromText(vertical)
		e.Kind = auction.ChangeKind(kind)
		e.Outcome = auction.Outcome(sqlutil.FromText(outcome))
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closures: %w", err)
	}
	return entries, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
