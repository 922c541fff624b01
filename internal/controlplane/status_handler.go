package controlplane

import (
	"net/http"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/pixrelay/pixrelay/internal/throttle"
	"github.com/pixrelay/pixrelay/internal/version"
)

type StatusResponse struct {
	Status      string           `json:"status"`
	Timestamp   string           `json:"ts"`
	Version     string           `json:"version"`
	Revision    string           `json:"revision"`
	BuildDate   string           `json:"build_date"`
	DeviceID    string           `json:"device_id,omitempty"`
	ActiveRuns  int              `json:"active_runs"`
	TrackedRuns int              `json:"tracked_runs"`
	Backends    []string         `json:"backends"`
	Gates       []throttle.State `json:"gates,omitempty"`
	Process     *ProcessInfo     `json:"process,omitempty"`
}

type ProcessInfo struct {
	PID        int32   `json:"pid"`
	UptimeSec  int64   `json:"uptime_sec"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// StatusHandler reports daemon health for status surfaces
type StatusHandler struct {
	services *Services
}

func NewStatusHandler(services *Services) *StatusHandler {
	return &StatusHandler{
		services: services,
	}
}

// Status returns daemon identity, configured backends, gate snapshots
// and process stats in one shot.
func (h *StatusHandler) Status(c *gin.Context) {
	resp := &StatusResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Version:     version.Version,
		Revision:    version.Revision,
		BuildDate:   version.BuildDate,
		ActiveRuns:  len(h.services.Runs.Active()),
		TrackedRuns: len(h.services.Coordinator.RequestIDs()),
	}

	if h.services.Backends != nil {
		resp.Backends = h.services.Backends.Enabled()
	}
	if resp.Backends == nil {
		resp.Backends = []string{}
	}

	if h.services.Contract != nil {
		resp.Gates = h.services.Contract.GateStates()
	}

	// Best effort from here on, a status probe should not fail over
	// platform quirks.
	if id, err := machineid.ProtectedID(version.AppName); err == nil {
		resp.DeviceID = id
	}
	resp.Process = processInfo()

	c.PureJSON(http.StatusOK, resp)
}

func processInfo() *ProcessInfo {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}

	info := &ProcessInfo{PID: proc.Pid}
	if created, err := proc.CreateTime(); err == nil {
		info.UptimeSec = (time.Now().UnixMilli() - created) / 1000
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	return info
}
