package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/quizforge/quizforge/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RecipientRepo persists recipients.
type RecipientRepo struct{ Pool PgxPool }

// NewRecipientRepo constructs a RecipientRepo with the given pool.
func NewRecipientRepo(p PgxPool) *RecipientRepo { return &RecipientRepo{Pool: p} }

// GetOrCreate returns the recipient with the given identifier, creating it
// on first observation.
func (r *RecipientRepo) GetOrCreate(ctx domain.Context, identifier string) (domain.Recipient, error) {
	tracer := otel.Tracer("repo.recipients")
	ctx, span := tracer.Start(ctx, "recipients.GetOrCreate")
	defer span.End()
	if identifier == "" {
		return domain.Recipient{}, fmt.Errorf("op=recipient.get_or_create: %w", domain.ErrInvalidArgument)
	}
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO recipients (identifier, created_at) VALUES ($1, $2) ON CONFLICT (identifier) DO NOTHING`,
		identifier, time.Now().UTC())
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("op=recipient.get_or_create: %w", err)
	}
	var rec domain.Recipient
	row := r.Pool.QueryRow(ctx,
		`SELECT id, identifier, created_at FROM recipients WHERE identifier = $1`, identifier)
	if err := row.Scan(&rec.ID, &rec.Identifier, &rec.CreatedAt); err != nil {
		return domain.Recipient{}, fmt.Errorf("op=recipient.get_or_create: %w", err)
	}
	return rec, nil
}
