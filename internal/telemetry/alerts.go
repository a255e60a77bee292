package telemetry

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one tripped threshold.
type Alert struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Thresholds are the configurable alert limits. Zero values disable nothing;
// callers populate them from config, which carries the documented defaults.
type Thresholds struct {
	MaxActiveJobs     int
	MinSuccessRate    float64
	MinCompletions    int
	MaxDuplicateRatio float64
	MaxPushStreams    int
}

// SystemStatus summarizes a set of alerts.
func SystemStatus(alerts []Alert) string {
	status := "healthy"
	for _, a := range alerts {
		if a.Severity == SeverityCritical {
			return "critical"
		}
		status = "warning"
	}
	return status
}

// Evaluate checks the current snapshot plus live gauges against the
// thresholds and returns every alert that fires.
func (c *Collector) Evaluate(t Thresholds, activeJobs, pushStreams int) []Alert {
	s := c.Snapshot()
	var alerts []Alert
	if activeJobs > t.MaxActiveJobs {
		alerts = append(alerts, Alert{
			Name:     "active_jobs_high",
			Severity: SeverityWarning,
			Message:  "active generation jobs exceed threshold",
		})
	}
	if s.JobsCompleted+s.JobsFailed > int64(t.MinCompletions) && s.SuccessRate < t.MinSuccessRate {
		alerts = append(alerts, Alert{
			Name:     "job_success_rate_low",
			Severity: SeverityCritical,
			Message:  "job success rate below threshold",
		})
	}
	if s.DuplicateRatio > t.MaxDuplicateRatio {
		alerts = append(alerts, Alert{
			Name:     "duplicate_ratio_high",
			Severity: SeverityWarning,
			Message:  "generator duplicate ratio above threshold",
		})
	}
	if pushStreams > t.MaxPushStreams {
		alerts = append(alerts, Alert{
			Name:     "push_streams_high",
			Severity: SeverityWarning,
			Message:  "concurrent push streams exceed threshold",
		})
	}
	return alerts
}
