package controlplane

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

const (
	RunStateRunning = "running"
	RunStateSettled = "settled"
)

type UploadCreateRequest struct {
	FilePath string                   `json:"file_path" binding:"required"`
	Backends []string                 `json:"backends,omitempty"`
	Params   map[string]remote.Params `json:"params,omitempty"`
}

type UploadAcceptedResponse struct {
	RequestID string    `json:"request_id"`
	File      string    `json:"file"`
	Backends  []string  `json:"backends"`
	StartedAt time.Time `json:"started_at"`
}

type RunSummary struct {
	RequestID string                   `json:"request_id"`
	File      string                   `json:"file"`
	State     string                   `json:"state"`
	StartedAt time.Time                `json:"started_at"`
	Outcomes  []uploader.UploadOutcome `json:"outcomes"`
	Overall   uploader.OverallStatus   `json:"overall_status,omitempty"`
	Primary   string                   `json:"primary_backend,omitempty"`
}

type UploadListResponse struct {
	Active []RunSummary `json:"active"`
	Recent []RunSummary `json:"recent"`
}

type RunDetailResponse struct {
	RunSummary
	FinishedAt *time.Time                      `json:"finished_at,omitempty"`
	PrimaryURL string                          `json:"primary_url,omitempty"`
	Failures   map[string]uploader.FailureInfo `json:"failures,omitempty"`
}

type UploadsHandler struct {
	services *Services
}

func NewUploadsHandler(services *Services) *UploadsHandler {
	return &UploadsHandler{
		services: services,
	}
}

// Create accepts an upload and returns immediately with its request id.
// The fan-out runs in the background; progress arrives over /v1/events
// and the settled result over GET /v1/uploads/:id.
func (h *UploadsHandler) Create(c *gin.Context) {
	var body UploadCreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	backends := body.Backends
	if len(backends) == 0 && h.services.Backends != nil {
		backends = h.services.Backends.Enabled()
	}

	run, err := h.services.Coordinator.Start(h.services.runContext(), uploader.UploadRequest{
		FilePath: body.FilePath,
		Backends: backends,
		Params:   body.Params,
	})
	if err != nil {
		var serr *uploader.StructuredError
		switch {
		case errors.As(err, &serr) && serr.Kind == uploader.KindConfigMissing:
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		case errors.Is(err, fs.ErrNotExist):
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		default:
			AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		}
		return
	}

	h.services.Runs.Add(run)

	c.PureJSON(http.StatusAccepted, &UploadAcceptedResponse{
		RequestID: run.ID,
		File:      run.Request.FilePath,
		Backends:  run.Request.Backends,
		StartedAt: run.StartedAt,
	})
}

// List returns the in-flight runs plus the settled ones the retry table
// still remembers, newest first.
func (h *UploadsHandler) List(c *gin.Context) {
	resp := UploadListResponse{
		Active: []RunSummary{},
		Recent: []RunSummary{},
	}

	active := h.services.Runs.Active()
	for i := len(active) - 1; i >= 0; i-- {
		resp.Active = append(resp.Active, summarizeRun(active[i]))
	}

	ids := h.services.Coordinator.RequestIDs()
	for i := len(ids) - 1; i >= 0; i-- {
		if res, ok := h.services.Coordinator.Result(ids[i]); ok {
			resp.Recent = append(resp.Recent, summarizeResult(res))
		}
	}

	c.PureJSON(http.StatusOK, resp)
}

// Get resolves one run by id. The retry table wins over the live store:
// once settled, its merged aggregate reflects later retries too.
func (h *UploadsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	if res, ok := h.services.Coordinator.Result(id); ok {
		detail := detailFromResult(res)
		if failures, ok := h.services.Coordinator.Failures(id); ok && len(failures) > 0 {
			detail.Failures = failures
		}
		c.PureJSON(http.StatusOK, detail)
		return
	}

	if run, ok := h.services.Runs.Get(id); ok {
		if res := run.Result(); res != nil {
			c.PureJSON(http.StatusOK, detailFromResult(res))
			return
		}
		c.PureJSON(http.StatusOK, &RunDetailResponse{RunSummary: summarizeRun(run)})
		return
	}

	AbortWithError(c, http.StatusNotFound, ErrCodeRunNotFound,
		errors.New("no run with this request id"))
}

// RetryAll re-drives every still-retryable failed backend of a settled
// run and reports the pass. The call is synchronous.
func (h *UploadsHandler) RetryAll(c *gin.Context) {
	id := c.Param("id")

	report, err := h.services.Coordinator.RetryAllFailed(c.Request.Context(), id)
	if err != nil {
		h.abortRetryError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, report)
}

// RetryOne re-drives a single failed backend, including permanently
// failed ones. This is the manual override path.
func (h *UploadsHandler) RetryOne(c *gin.Context) {
	id := c.Param("id")
	backend := c.Param("backend")

	outcome, err := h.services.Coordinator.RetryOne(c.Request.Context(), id, backend)
	if err != nil {
		h.abortRetryError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, outcome)
}

func (h *UploadsHandler) abortRetryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, uploader.ErrRunNotFound):
		AbortWithError(c, http.StatusNotFound, ErrCodeRunNotFound, err)
	case errors.Is(err, uploader.ErrNotFailed), errors.Is(err, uploader.ErrRetryInFlight):
		AbortWithError(c, http.StatusConflict, ErrCodeRetry, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		AbortWithError(c, http.StatusRequestTimeout, ErrCodeRetry, err)
	default:
		AbortWithError(c, http.StatusInternalServerError, ErrCodeRetry, err)
	}
}

func summarizeRun(run *uploader.Run) RunSummary {
	return RunSummary{
		RequestID: run.ID,
		File:      run.Request.FilePath,
		State:     RunStateRunning,
		StartedAt: run.StartedAt,
		Outcomes:  run.Snapshot(),
	}
}

func summarizeResult(res *uploader.AggregateResult) RunSummary {
	return RunSummary{
		RequestID: res.RequestID,
		File:      res.File,
		State:     RunStateSettled,
		StartedAt: res.StartedAt,
		Outcomes:  res.Outcomes,
		Overall:   res.Overall,
		Primary:   res.Primary,
	}
}

func detailFromResult(res *uploader.AggregateResult) *RunDetailResponse {
	finished := res.FinishedAt
	return &RunDetailResponse{
		RunSummary: summarizeResult(res),
		FinishedAt: &finished,
		PrimaryURL: res.PrimaryURL(),
	}
}
