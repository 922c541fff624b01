package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

// backendTestTimeout caps a connectivity probe. Probes hit remote APIs
// with a single cheap call, anything slower is a failure in itself.
const backendTestTimeout = 15 * time.Second

type BackendInfo struct {
	ID         string `json:"id"`
	Configured bool   `json:"configured"`
	Testable   bool   `json:"testable"`
}

type BackendListResponse struct {
	Backends []BackendInfo `json:"backends"`
}

type BackendTestResponse struct {
	Backend string                    `json:"backend"`
	Ok      bool                      `json:"ok"`
	TookMs  int64                     `json:"took_ms"`
	Error   *uploader.StructuredError `json:"error,omitempty"`
}

type BackendsHandler struct {
	services *Services
}

func NewBackendsHandler(services *Services) *BackendsHandler {
	return &BackendsHandler{
		services: services,
	}
}

// List enumerates the backend catalog in registration order. Unconfigured
// backends are listed too so clients can render the full catalog.
func (h *BackendsHandler) List(c *gin.Context) {
	registry := h.services.Coordinator.Orchestrator().Registry()

	ids := registry.List()
	backends := make([]BackendInfo, 0, len(ids))
	for _, id := range ids {
		info := BackendInfo{ID: id}
		if h.services.Backends != nil {
			info.Configured = h.services.Backends.Has(id)
		}
		if adapter, err := registry.Create(id); err == nil {
			_, info.Testable = adapter.(uploader.Checker)
		}
		backends = append(backends, info)
	}

	c.PureJSON(http.StatusOK, BackendListResponse{Backends: backends})
}

// Test runs a backend's connectivity probe. The probe result is the
// response payload, not the response status: a failing backend is a
// successful test call.
func (h *BackendsHandler) Test(c *gin.Context) {
	id := c.Param("id")
	registry := h.services.Coordinator.Orchestrator().Registry()

	adapter, err := registry.Create(id)
	if err != nil {
		if errors.Is(err, uploader.ErrNotRegistered) {
			AbortWithError(c, http.StatusNotFound, ErrCodeBackend, err)
			return
		}
		AbortWithError(c, http.StatusInternalServerError, ErrCodeBackend, err)
		return
	}

	checker, ok := adapter.(uploader.Checker)
	if !ok {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBackend,
			errors.New("backend has no connectivity test"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), backendTestTimeout)
	defer cancel()

	start := time.Now()
	checkErr := checker.Check(ctx)

	resp := BackendTestResponse{
		Backend: id,
		Ok:      checkErr == nil,
		TookMs:  time.Since(start).Milliseconds(),
	}
	if checkErr != nil {
		resp.Error = uploader.Classify(checkErr)
	}

	c.PureJSON(http.StatusOK, resp)
}
