package domain

import (
	"context"
	"errors"
	"time"

	"github.com/quizforge/quizforge/pkg/textx"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")

	// Generator faults. None of these are fatal to the job that observes
	// them; the worker logs, skips the question, and continues.
	ErrGenTransport  = errors.New("generator transport error")
	ErrGenParse      = errors.New("generator parse error")
	ErrGenValidation = errors.New("generator validation error")
	ErrGenTimeout    = errors.New("generator timeout")
)

// OptionCount is the fixed number of answer options on every question.
const OptionCount = 4

// TopicRandom is the reserved topic sentinel (any casing) that disables
// topic filtering on reads and requests a random topic on generation.
const TopicRandom = "random"

// Recipient is an identified consumer of questions, the deduplication
// domain. Created on first observation; identifier is typically an email.
type Recipient struct {
	ID         int64
	Identifier string
	CreatedAt  time.Time
}

// Question is immutable after creation. ContentHash is globally unique.
type Question struct {
	ID          int64     `json:"id"`
	Prompt      string    `json:"question"`
	Options     []string  `json:"options"`
	Answer      string    `json:"answer"`
	Topic       string    `json:"topic"`
	MinAge      int       `json:"min_age"`
	MaxAge      int       `json:"max_age"`
	ContentHash string    `json:"-"`
	CreatedAt   time.Time `json:"-"`
}

// Validate checks the structural invariants: exactly four distinct options,
// answer among the options, non-empty prompt, min_age <= max_age.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return errors.New("prompt required")
	}
	if len(q.Options) != OptionCount {
		return errors.New("exactly four options required")
	}
	seen := make(map[string]struct{}, OptionCount)
	answerFound := false
	for _, o := range q.Options {
		if o == "" {
			return errors.New("empty option")
		}
		if _, dup := seen[o]; dup {
			return errors.New("duplicate option")
		}
		seen[o] = struct{}{}
		if o == q.Answer {
			answerFound = true
		}
	}
	if !answerFound {
		return errors.New("answer must be one of the options")
	}
	if q.MinAge > q.MaxAge {
		return errors.New("min_age must not exceed max_age")
	}
	return nil
}

// Hash computes the content hash over the canonical serialization of the
// question text fields.
func (q Question) Hash() string {
	return textx.ContentHash(q.Prompt, q.Answer, q.Options)
}

// Assignment binds a question to a recipient. (RecipientID, QuestionID) is
// unique; rows are append-only. Seen is written false and never updated.
type Assignment struct {
	ID          int64
	RecipientID int64
	QuestionID  int64
	AssignedAt  time.Time
	Seen        bool
}

// InsertOutcome classifies a question insert attempt.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	Duplicate
	Invalid
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// AgeRange scopes generation to an age band.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// GenerationJob is a bounded unit of background work that attempts to
// produce TargetCount new questions for its owner. Jobs live in process
// memory only; losing them on restart is tolerated by design.
type GenerationJob struct {
	ID             string     `json:"job_id"`
	Owner          string     `json:"-"`
	TargetCount    int        `json:"target_count"`
	GeneratedCount int        `json:"generated_count"`
	Status         JobStatus  `json:"status"`
	Message        string     `json:"message"`
	AutoTriggered  bool       `json:"auto_triggered"`
	Topic          string     `json:"topic,omitempty"`
	AgeRange       *AgeRange  `json:"age_range,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Repositories (ports)

type RecipientRepository interface {
	GetOrCreate(ctx Context, identifier string) (Recipient, error)
}

type QuestionRepository interface {
	// Insert computes the content hash and attempts the insert. Duplicate is
	// reported via outcome, not error.
	Insert(ctx Context, q Question) (int64, InsertOutcome, error)
	ImportBatch(ctx Context, qs []Question) (imported, skipped int, err error)
	// SelectUnassigned returns up to limit questions matching the filters and
	// not yet assigned to the recipient. age == nil disables the age filter;
	// topic "" or the random sentinel disables the topic filter.
	SelectUnassigned(ctx Context, recipientID int64, age *int, topic string, limit int) ([]Question, error)
	// AssignMany inserts assignment rows as one atomic unit.
	AssignMany(ctx Context, recipientID int64, questionIDs []int64, now time.Time) error
	// SelectAndAssign runs SelectUnassigned and AssignMany in a single
	// transaction and returns only the questions whose assignment committed.
	SelectAndAssign(ctx Context, recipientID int64, age *int, topic string, limit int, now time.Time) ([]Question, error)
	CountMatching(ctx Context, age *int, topic string) (int, error)
	Total(ctx Context) (int64, error)
}

// Generator (port) produces one validated question per call. The nonce must
// vary per call within a job; implementations bound their own runtime with a
// per-call deadline.
type Generator interface {
	Generate(ctx Context, topic string, minAge, maxAge int, nonce int) (Question, error)
}

// EventSink (port) receives job lifecycle events for per-recipient fan-out.
// Implementations must not block the caller.
type EventSink interface {
	Publish(recipient string, event Event)
}

// Event is a single push-channel frame. Content is data-only.
type Event struct {
	Type           string           `json:"type"`
	Message        string           `json:"message,omitempty"`
	JobID          string           `json:"job_id,omitempty"`
	Status         JobStatus        `json:"status,omitempty"`
	GeneratedCount int              `json:"generated_count,omitempty"`
	TargetCount    int              `json:"target_count,omitempty"`
	Progress       int              `json:"progress,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	Jobs           []*GenerationJob `json:"jobs,omitempty"`
}

// Event type vocabulary.
const (
	EventConnectionEstablished = "connection_established"
	EventJobUpdate             = "job_update"
	EventJobProgress           = "job_progress"
	EventJobCompleted          = "job_completed"
	EventJobFailed             = "job_failed"
	EventPong                  = "pong"
	EventJobsStatus            = "jobs_status"
)

// Context is an alias to context.Context; adapters pass it through.
type Context = context.Context
