package uploader

import (
	"time"

	"github.com/pixrelay/pixrelay/internal/remote"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

type OverallStatus string

const (
	AllSucceeded   OverallStatus = "all_succeeded"
	PartialSuccess OverallStatus = "partial_success"
	AllFailed      OverallStatus = "all_failed"
)

// UploadRequest describes one file going to one or more backends. It is
// treated as immutable once submitted.
type UploadRequest struct {
	FilePath string                   `json:"file_path"`
	Backends []string                 `json:"backends"`
	Params   map[string]remote.Params `json:"params,omitempty"`
}

// BackendParams returns the per-backend parameter overrides, which may
// be nil.
func (r *UploadRequest) BackendParams(backend string) remote.Params {
	if r.Params == nil {
		return nil
	}
	return r.Params[backend]
}

// UploadOutcome is the per-backend result of one fan-out branch.
type UploadOutcome struct {
	Backend   string           `json:"backend"`
	Status    Status           `json:"status"`
	URL       string           `json:"url,omitempty"`
	FileKey   string           `json:"file_key,omitempty"`
	Error     *StructuredError `json:"error,omitempty"`
	Progress  float64          `json:"progress"`
	Attempts  int              `json:"attempts,omitempty"`
	ElapsedMs int64            `json:"elapsed_ms,omitempty"`
}

// AggregateResult is the settled outcome of one fan-out. Outcomes keep
// request order, not completion order.
type AggregateResult struct {
	RequestID  string          `json:"request_id"`
	File       string          `json:"file"`
	Outcomes   []UploadOutcome `json:"outcomes"`
	Primary    string          `json:"primary_backend,omitempty"`
	Overall    OverallStatus   `json:"overall_status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Summarize computes the overall status and the primary backend, which
// is the first successful outcome in request order so the link shown to
// the user is stable across runs with the same success set.
func Summarize(outcomes []UploadOutcome) (primary string, overall OverallStatus) {
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			succeeded++
			if primary == "" {
				primary = o.Backend
			}
		}
	}
	switch {
	case succeeded == 0:
		overall = AllFailed
	case succeeded == len(outcomes):
		overall = AllSucceeded
	default:
		overall = PartialSuccess
	}
	return primary, overall
}

// Failed returns the failed outcomes in request order.
func (r *AggregateResult) Failed() []UploadOutcome {
	var failed []UploadOutcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Outcome returns the outcome for one backend, if present.
func (r *AggregateResult) Outcome(backend string) (UploadOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Backend == backend {
			return o, true
		}
	}
	return UploadOutcome{}, false
}

// PrimaryURL returns the url of the primary backend's outcome.
func (r *AggregateResult) PrimaryURL() string {
	if r.Primary == "" {
		return ""
	}
	if o, ok := r.Outcome(r.Primary); ok {
		return o.URL
	}
	return ""
}
