package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/domain"
	"github.com/quizforge/quizforge/internal/telemetry"
)

type fakeStore struct {
	mu        sync.Mutex
	inserted  int
	outcomes  []domain.InsertOutcome // consumed in order; empty means Inserted
	insertErr error
}

func (f *fakeStore) Insert(_ domain.Context, q domain.Question) (int64, domain.InsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, domain.Invalid, f.insertErr
	}
	outcome := domain.Inserted
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	if outcome == domain.Inserted {
		f.inserted++
	}
	return int64(f.inserted), outcome, nil
}

func (f *fakeStore) ImportBatch(domain.Context, []domain.Question) (int, int, error) {
	return 0, 0, nil
}

func (f *fakeStore) SelectUnassigned(domain.Context, int64, *int, string, int) ([]domain.Question, error) {
	return nil, nil
}

func (f *fakeStore) AssignMany(domain.Context, int64, []int64, time.Time) error { return nil }

func (f *fakeStore) SelectAndAssign(domain.Context, int64, *int, string, int, time.Time) ([]domain.Question, error) {
	return nil, nil
}

func (f *fakeStore) CountMatching(domain.Context, *int, string) (int, error) { return 0, nil }

func (f *fakeStore) Total(domain.Context) (int64, error) { return 0, nil }

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	// fail returns true when the call at index i should error.
	fail func(i int) bool
	// panicOn panics the call at this index (0-based); -1 disables.
	panicOn int
}

func (f *fakeGenerator) Generate(_ domain.Context, topic string, minAge, maxAge int, nonce int) (domain.Question, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if f.panicOn >= 0 && i == f.panicOn {
		panic("generator exploded")
	}
	if f.fail != nil && f.fail(i) {
		return domain.Question{}, fmt.Errorf("generate: %w", domain.ErrGenTransport)
	}
	return domain.Question{
		Prompt:  fmt.Sprintf("Question %d?", nonce),
		Options: []string{"a", "b", "c", "d"},
		Answer:  "a",
		Topic:   topic,
		MinAge:  minAge,
		MaxAge:  maxAge,
	}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(_ string, e domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func newTestManager(t *testing.T, store *fakeStore, gen *fakeGenerator) (*Manager, *recordingSink, *telemetry.Collector) {
	t.Helper()
	sink := &recordingSink{}
	metrics := telemetry.NewCollector()
	m := New(store, gen, sink, metrics, Config{
		Workers:    2,
		Topics:     []string{"Animals", "Space", "History", "Science", "Sports"},
		DefaultAge: domain.AgeRange{Min: 8, Max: 12},
	})
	return m, sink, metrics
}

func waitTerminal(t *testing.T, m *Manager, jobID, owner string) *domain.GenerationJob {
	t.Helper()
	var job *domain.GenerationJob
	require.Eventually(t, func() bool {
		j, err := m.Status(jobID, owner)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestEnqueue_RunsToCompletion(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{panicOn: -1}
	m, _, metrics := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	jobID, err := m.Enqueue("a@example.com", 3, nil, "Space", false)
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID, "a@example.com")
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 3, job.GeneratedCount)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "Generated 3 of 3 questions", job.Message)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsEnqueued)
	assert.Equal(t, int64(1), snap.JobsCompleted)
	assert.Equal(t, int64(3), snap.QuestionsGenerated)
	assert.Equal(t, int64(1), snap.ManualTriggers)
}

func TestEnqueue_EventOrderForOneJob(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{panicOn: -1}
	m, sink, _ := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	jobID, err := m.Enqueue("a@example.com", 2, nil, "Space", false)
	require.NoError(t, err)
	waitTerminal(t, m, jobID, "a@example.com")

	var forJob []domain.Event
	for _, e := range sink.snapshot() {
		if e.JobID == jobID {
			forJob = append(forJob, e)
		}
	}
	var types []string
	for _, e := range forJob {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		domain.EventJobUpdate,   // pending
		domain.EventJobUpdate,   // running
		domain.EventJobProgress, // 1/2
		domain.EventJobProgress, // 2/2
		domain.EventJobCompleted,
	}, types)

	last := forJob[len(forJob)-1]
	assert.Equal(t, 2, last.GeneratedCount)
	assert.Equal(t, 2, last.TargetCount)
}

func TestEnqueue_ProgressCountsOnlyInserted(t *testing.T) {
	store := &fakeStore{outcomes: []domain.InsertOutcome{
		domain.Inserted, domain.Duplicate, domain.Inserted,
	}}
	gen := &fakeGenerator{panicOn: -1}
	m, _, metrics := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	jobID, err := m.Enqueue("a@example.com", 3, nil, "Space", true)
	require.NoError(t, err)
	job := waitTerminal(t, m, jobID, "a@example.com")

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 2, job.GeneratedCount)
	assert.Equal(t, "Generated 2 of 3 questions", job.Message)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.QuestionsGenerated)
	assert.Equal(t, int64(1), snap.DuplicatesSkipped)
	assert.Equal(t, int64(1), snap.AutoTriggers)
}

func TestEnqueue_GeneratorErrorsAreNotFatal(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{panicOn: -1, fail: func(i int) bool { return i%2 == 0 }}
	m, _, metrics := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	jobID, err := m.Enqueue("a@example.com", 4, nil, "", false)
	require.NoError(t, err)
	job := waitTerminal(t, m, jobID, "a@example.com")

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 2, job.GeneratedCount)
	assert.Equal(t, int64(1), metrics.Snapshot().JobsCompleted)
}

func TestEnqueue_PanicFailsJobButWorkerSurvives(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{panicOn: 0}
	m, sink, metrics := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	first, err := m.Enqueue("a@example.com", 1, nil, "Space", false)
	require.NoError(t, err)
	job := waitTerminal(t, m, first, "a@example.com")
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.Message, "internal fault")
	assert.Equal(t, int64(1), metrics.Snapshot().JobsFailed)

	var sawFailed bool
	for _, e := range sink.snapshot() {
		if e.JobID == first && e.Type == domain.EventJobFailed {
			sawFailed = true
		}
	}
	assert.True(t, sawFailed)

	// The pool keeps serving after the panic.
	second, err := m.Enqueue("a@example.com", 1, nil, "Space", false)
	require.NoError(t, err)
	job = waitTerminal(t, m, second, "a@example.com")
	assert.Equal(t, domain.JobCompleted, job.Status)
}

func TestEnqueue_StoreErrorFailsJob(t *testing.T) {
	store := &fakeStore{insertErr: fmt.Errorf("connection refused")}
	gen := &fakeGenerator{panicOn: -1}
	m, _, metrics := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	jobID, err := m.Enqueue("a@example.com", 2, nil, "", false)
	require.NoError(t, err)
	job := waitTerminal(t, m, jobID, "a@example.com")

	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.Message, "store insert failed")
	assert.Equal(t, int64(1), metrics.Snapshot().JobsFailed)
}

func TestStatus_OwnerOnly(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, &fakeGenerator{panicOn: -1})

	jobID, err := m.Enqueue("a@example.com", 1, nil, "", false)
	require.NoError(t, err)

	_, err = m.Status(jobID, "b@example.com")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = m.Status("no-such-job", "a@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)

	job, err := m.Status(jobID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
}

func TestStatus_ReturnsACopy(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, &fakeGenerator{panicOn: -1})
	age := domain.AgeRange{Min: 6, Max: 10}
	jobID, err := m.Enqueue("a@example.com", 1, &age, "", false)
	require.NoError(t, err)

	got, err := m.Status(jobID, "a@example.com")
	require.NoError(t, err)
	got.Status = domain.JobFailed
	got.AgeRange.Min = 99

	again, err := m.Status(jobID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, again.Status)
	assert.Equal(t, 6, again.AgeRange.Min)
}

func TestHasActiveFor(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, &fakeGenerator{panicOn: -1})

	assert.False(t, m.HasActiveFor("a@example.com"))
	_, err := m.Enqueue("a@example.com", 1, nil, "", false)
	require.NoError(t, err)
	assert.True(t, m.HasActiveFor("a@example.com"))
	assert.False(t, m.HasActiveFor("b@example.com"))
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCleanup_RemovesOnlyOldTerminalJobs(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{panicOn: -1}
	m, _, _ := newTestManager(t, store, gen)
	m.Start(context.Background())
	defer m.Stop()

	done, err := m.Enqueue("a@example.com", 1, nil, "", false)
	require.NoError(t, err)
	waitTerminal(t, m, done, "a@example.com")

	assert.Equal(t, 0, m.Cleanup(time.Hour))
	assert.Equal(t, 1, m.Cleanup(0))

	_, err = m.Status(done, "a@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobsFor_OldestFirst(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, &fakeGenerator{panicOn: -1})

	a, err := m.Enqueue("a@example.com", 1, nil, "", false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Enqueue("a@example.com", 2, nil, "", true)
	require.NoError(t, err)
	_, err = m.Enqueue("b@example.com", 1, nil, "", false)
	require.NoError(t, err)

	jobs := m.JobsFor("a@example.com")
	require.Len(t, jobs, 2)
	assert.Equal(t, a, jobs[0].ID)
	assert.Equal(t, b, jobs[1].ID)
}

func TestEnqueue_Validation(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, &fakeGenerator{panicOn: -1})

	_, err := m.Enqueue("", 1, nil, "", false)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = m.Enqueue("a@example.com", 0, nil, "", false)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
