package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/quizforge/quizforge/internal/domain"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// QuestionRepo persists questions and their per-recipient assignments.
type QuestionRepo struct{ Pool PgxPool }

// NewQuestionRepo constructs a QuestionRepo with the given pool.
func NewQuestionRepo(p PgxPool) *QuestionRepo { return &QuestionRepo{Pool: p} }

// likeEscaper neutralizes ILIKE metacharacters in user-supplied topics so
// the filter matches them literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// topicPattern converts the request topic into an ILIKE pattern, or ""
// when the filter is disabled ("" or the random sentinel, any casing).
func topicPattern(topic string) string {
	if topic == "" || strings.EqualFold(topic, domain.TopicRandom) {
		return ""
	}
	return "%" + likeEscaper.Replace(topic) + "%"
}

// Insert validates q, computes its content hash, and attempts the insert.
// A content-hash collision is reported as Duplicate, not as an error.
func (r *QuestionRepo) Insert(ctx domain.Context, q domain.Question) (int64, domain.InsertOutcome, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.Insert")
	defer span.End()
	if err := q.Validate(); err != nil {
		return 0, domain.Invalid, fmt.Errorf("op=question.insert: %w: %s", domain.ErrInvalidArgument, err)
	}
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, domain.Invalid, fmt.Errorf("op=question.insert: %w", err)
	}
	var id int64
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO questions (prompt, options, answer, topic, min_age, max_age, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id`,
		q.Prompt, opts, q.Answer, q.Topic, q.MinAge, q.MaxAge, q.Hash(), time.Now().UTC())
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.Duplicate, nil
		}
		return 0, domain.Invalid, fmt.Errorf("op=question.insert: %w", err)
	}
	return id, domain.Inserted, nil
}

// ImportBatch inserts each question independently; duplicates and invalid
// entries are counted as skipped, never fatal.
func (r *QuestionRepo) ImportBatch(ctx domain.Context, qs []domain.Question) (int, int, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.ImportBatch")
	defer span.End()
	imported, skipped := 0, 0
	for _, q := range qs {
		_, outcome, err := r.Insert(ctx, q)
		switch {
		case err != nil && errors.Is(err, domain.ErrInvalidArgument):
			skipped++
		case err != nil:
			return imported, skipped, err
		case outcome == domain.Inserted:
			imported++
		default:
			skipped++
		}
	}
	return imported, skipped, nil
}

const selectUnassignedSQL = `
	SELECT q.id, q.prompt, q.options, q.answer, q.topic, q.min_age, q.max_age, q.content_hash, q.created_at
	FROM questions q
	WHERE ($2::int IS NULL OR (q.min_age <= $2 AND q.max_age >= $2))
	  AND ($3::text = '' OR q.topic ILIKE $3)
	  AND NOT EXISTS (
		SELECT 1 FROM assignments a WHERE a.recipient_id = $1 AND a.question_id = q.id
	  )
	ORDER BY q.id
	LIMIT $4`

type querier interface {
	Query(ctx domain.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanQuestions(rows pgx.Rows) ([]domain.Question, error) {
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		var q domain.Question
		var opts []byte
		if err := rows.Scan(&q.ID, &q.Prompt, &opts, &q.Answer, &q.Topic, &q.MinAge, &q.MaxAge, &q.ContentHash, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func selectUnassigned(ctx domain.Context, db querier, recipientID int64, age *int, topic string, limit int) ([]domain.Question, error) {
	rows, err := db.Query(ctx, selectUnassignedSQL, recipientID, age, topicPattern(topic), limit)
	if err != nil {
		return nil, err
	}
	return scanQuestions(rows)
}

// SelectUnassigned returns up to limit questions matching the filters and
// not already assigned to the recipient.
func (r *QuestionRepo) SelectUnassigned(ctx domain.Context, recipientID int64, age *int, topic string, limit int) ([]domain.Question, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.SelectUnassigned")
	defer span.End()
	if limit <= 0 {
		return nil, nil
	}
	qs, err := selectUnassigned(ctx, r.Pool, recipientID, age, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("op=question.select_unassigned: %w", err)
	}
	return qs, nil
}

// AssignMany inserts assignment rows in a single atomic statement. Any
// uniqueness violation rolls the whole unit back and surfaces ErrConflict.
func (r *QuestionRepo) AssignMany(ctx domain.Context, recipientID int64, questionIDs []int64, now time.Time) error {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.AssignMany")
	defer span.End()
	if len(questionIDs) == 0 {
		return nil
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO assignments (recipient_id, question_id, assigned_at, seen)
		SELECT $1, qid, $3, FALSE FROM unnest($2::bigint[]) AS qid`,
		recipientID, questionIDs, now.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("op=assignment.assign_many: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=assignment.assign_many: %w", err)
	}
	return nil
}

// SelectAndAssign runs the selection and the assignment in one transaction.
// The insert uses ON CONFLICT DO NOTHING and only questions whose
// assignment row actually landed are returned, so a concurrent reader for
// the same recipient surfaces fewer questions, never duplicates.
func (r *QuestionRepo) SelectAndAssign(ctx domain.Context, recipientID int64, age *int, topic string, limit int, now time.Time) ([]domain.Question, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.SelectAndAssign")
	defer span.End()
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	selected, err := selectUnassigned(ctx, tx, recipientID, age, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
	}
	if len(selected) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(selected))
	for i, q := range selected {
		ids[i] = q.ID
	}
	rows, err := tx.Query(ctx, `
		INSERT INTO assignments (recipient_id, question_id, assigned_at, seen)
		SELECT $1, qid, $3, FALSE FROM unnest($2::bigint[]) AS qid
		ON CONFLICT (recipient_id, question_id) DO NOTHING
		RETURNING question_id`,
		recipientID, ids, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
	}
	committed := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
		}
		committed[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=question.select_and_assign: %w", err)
	}

	out := selected[:0]
	for _, q := range selected {
		if _, ok := committed[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// CountMatching reports how many questions match the filters, ignoring
// assignment state.
func (r *QuestionRepo) CountMatching(ctx domain.Context, age *int, topic string) (int, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.CountMatching")
	defer span.End()
	var n int
	row := r.Pool.QueryRow(ctx, `
		SELECT count(*) FROM questions q
		WHERE ($1::int IS NULL OR (q.min_age <= $1 AND q.max_age >= $1))
		  AND ($2::text = '' OR q.topic ILIKE $2)`,
		age, topicPattern(topic))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("op=question.count_matching: %w", err)
	}
	return n, nil
}

// Total reports the size of the question store.
func (r *QuestionRepo) Total(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.Total")
	defer span.End()
	var n int64
	if err := r.Pool.QueryRow(ctx, `SELECT count(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=question.total: %w", err)
	}
	return n, nil
}
