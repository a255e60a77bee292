package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/domain"
	"github.com/quizforge/quizforge/internal/telemetry"
	"github.com/quizforge/quizforge/internal/usecase"
)

const (
	defaultReadLimit = 10
	maxReadLimit     = 100
	maxImportBody    = 5 << 20 // 5MB
)

// JobAdmin is the slice of the job manager the handlers need beyond the
// usecase services.
type JobAdmin interface {
	Cleanup(maxAge time.Duration) int
	ActiveCount() int
	Count() int
}

// Streams reports and serves push subscriptions.
type Streams interface {
	StreamCount() int
	ServeWS(w http.ResponseWriter, r *http.Request, recipient string)
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Server wires handlers to services and checks.
type Server struct {
	Cfg       config.Config
	Supply    usecase.SupplyService
	Importer  usecase.ImportService
	Generate  usecase.GenerateService
	Jobs      JobAdmin
	Hub       Streams
	Metrics   *telemetry.Collector
	Questions domain.QuestionRepository
	DBCheck   func(context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, supply usecase.SupplyService, importer usecase.ImportService, generate usecase.GenerateService, jobs JobAdmin, hub Streams, metrics *telemetry.Collector, questions domain.QuestionRepository, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Supply: supply, Importer: importer, Generate: generate, Jobs: jobs, Hub: hub, Metrics: metrics, Questions: questions, DBCheck: dbCheck}
}

// RootHandler greets probes and the curious.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to the question supply API",
			"service": s.Cfg.OTELServiceName,
		})
	}
}

// QuestionsHandler serves the supply read path.
func (s *Server) QuestionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient := RecipientFrom(r.Context())

		limit := defaultReadLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		if limit > maxReadLimit {
			limit = maxReadLimit
		}

		var age *int
		if raw := r.URL.Query().Get("age"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: age must be an integer", domain.ErrInvalidArgument), nil)
				return
			}
			age = &n
		}
		topic := r.URL.Query().Get("topic")

		questions, err := s.Supply.FetchQuestions(r.Context(), recipient, limit, age, topic)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"questions": questions,
			"count":     len(questions),
		})
	}
}

// ImportHandler ingests externally authored question batches.
func (s *Server) ImportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
		var req struct {
			Questions []domain.Question `json:"questions" validate:"required,min=1"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: questions required", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		imported, skipped, total, err := s.Importer.Import(r.Context(), req.Questions)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"imported": imported,
			"skipped":  skipped,
			"total":    total,
			"message":  fmt.Sprintf("Imported %d questions, skipped %d", imported, skipped),
		})
	}
}

// GenerateAsyncHandler admits a manual generation job.
func (s *Server) GenerateAsyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			TargetCount int              `json:"target_count" validate:"required,min=1,max=50"`
			Topic       string           `json:"topic" validate:"omitempty,max=100"`
			AgeRange    *domain.AgeRange `json:"age_range"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		jobID, err := s.Generate.Submit(RecipientFrom(r.Context()), req.TargetCount, req.AgeRange, req.Topic)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id":  jobID,
			"status":  string(domain.JobPending),
			"message": "Job queued",
		})
	}
}

// GenerationStatusHandler polls one job; owner only.
func (s *Server) GenerationStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		job, err := s.Generate.Status(jobID, RecipientFrom(r.Context()))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// MetricsHandler serves the JSON telemetry dict. The Prometheus
// exposition lives at /metrics/prometheus.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := s.Questions.Total(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			telemetry.Snapshot
			TotalQuestions int64 `json:"total_questions"`
			ActiveJobs     int   `json:"active_jobs"`
			TrackedJobs    int   `json:"tracked_jobs"`
			PushStreams    int   `json:"push_streams"`
		}{
			Snapshot:       s.Metrics.Snapshot(),
			TotalQuestions: total,
			ActiveJobs:     s.Jobs.ActiveCount(),
			TrackedJobs:    s.Jobs.Count(),
			PushStreams:    s.Hub.StreamCount(),
		})
	}
}

// AlertsHandler evaluates the alert thresholds right now.
func (s *Server) AlertsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		alerts := s.Metrics.Evaluate(s.thresholds(), s.Jobs.ActiveCount(), s.Hub.StreamCount())
		if alerts == nil {
			alerts = []telemetry.Alert{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts":        alerts,
			"system_status": telemetry.SystemStatus(alerts),
		})
	}
}

func (s *Server) thresholds() telemetry.Thresholds {
	return telemetry.Thresholds{
		MaxActiveJobs:     s.Cfg.AlertMaxActiveJobs,
		MinSuccessRate:    s.Cfg.AlertMinSuccessRate,
		MinCompletions:    s.Cfg.AlertMinCompletions,
		MaxDuplicateRatio: s.Cfg.AlertMaxDuplicateRatio,
		MaxPushStreams:    s.Cfg.AlertMaxPushStreams,
	}
}

// HealthHandler is the liveness probe.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler is the readiness probe; it requires a live store.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DBCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// HealthDetailedHandler aggregates per-component health.
func (s *Server) HealthDetailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		store := map[string]any{"status": "healthy"}
		if err := s.DBCheck(ctx); err != nil {
			status = "unhealthy"
			store["status"] = "unhealthy"
			store["error"] = err.Error()
		} else if total, err := s.Questions.Total(ctx); err == nil {
			store["total_questions"] = total
		}

		alerts := s.Metrics.Evaluate(s.thresholds(), s.Jobs.ActiveCount(), s.Hub.StreamCount())
		if status == "healthy" && len(alerts) > 0 {
			status = "warning"
		}

		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"components": map[string]any{
				"store": store,
				"jobs": map[string]any{
					"status":  "healthy",
					"active":  s.Jobs.ActiveCount(),
					"tracked": s.Jobs.Count(),
				},
				"push": map[string]any{
					"status":  "healthy",
					"streams": s.Hub.StreamCount(),
				},
				"generator": map[string]any{
					"status": "healthy",
					"mode":   strings.ToLower(s.Cfg.GeneratorMode),
				},
			},
			"alerts": len(alerts),
		})
	}
}

// AdminCleanupHandler removes all terminal jobs on demand.
func (s *Server) AdminCleanupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		removed := s.Jobs.Cleanup(0)
		writeJSON(w, http.StatusOK, map[string]int{
			"removed_count":  removed,
			"remaining_jobs": s.Jobs.Count(),
		})
	}
}

// WSHandler upgrades /ws/{recipient_id}. The bearer token must belong to
// the recipient whose stream is requested.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipientID := chi.URLParam(r, "recipient_id")
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated), nil)
			return
		}
		subject, err := parseToken(s.Cfg.AuthSecret, raw)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if subject != recipientID {
			writeError(w, r, fmt.Errorf("%w: stream belongs to another recipient", domain.ErrForbidden), nil)
			return
		}
		s.Hub.ServeWS(w, r, recipientID)
	}
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			details[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return details
}
