package controlplane

import (
	"bufio"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pixrelay/pixrelay/internal/config"
)

const (
	defaultLogPageLines = 100
	maxLogPageLines     = 1000
)

// LogEntry is one parsed line of the daemon's log file.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type LogsRequest struct {
	// StartingToken is the byte offset from a previous page.
	StartingToken int64 `form:"starting_token" binding:"min=0"`
	// MaxResults caps the number of lines in one page.
	MaxResults int `form:"max_results" binding:"omitempty,min=1"`
}

type LogsResponse struct {
	Logs []LogEntry `json:"logs"`
	// NextToken resumes reading where this page stopped.
	NextToken int64 `json:"next_token"`
	HasMore   bool  `json:"has_more"`
}

// LogsHandler serves the daemon's own log file so clients can show
// recent activity without shell access to the machine.
type LogsHandler struct {
	logPath string
}

func NewLogsHandler(logPath string) *LogsHandler {
	if logPath == "" {
		logPath = config.DefaultLogFilePath
	}
	return &LogsHandler{logPath: logPath}
}

// List returns a page of parsed log lines. Pagination tokens are byte
// offsets into the file, so a follow-up call picks up lines appended
// since the previous page.
func (h *LogsHandler) List(c *gin.Context) {
	var params LogsRequest
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if params.MaxResults == 0 {
		params.MaxResults = defaultLogPageLines
	}
	if params.MaxResults > maxLogPageLines {
		params.MaxResults = maxLogPageLines
	}

	logs, next, hasMore, err := h.readPage(params.StartingToken, params.MaxResults)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}

	c.PureJSON(http.StatusOK, &LogsResponse{
		Logs:      logs,
		NextToken: next,
		HasMore:   hasMore,
	})
}

// readPage scans maxResults parseable lines starting at the byte
// offset. A missing log file is an empty page, not an error: the daemon
// may simply not have logged yet.
func (h *LogsHandler) readPage(offset int64, maxResults int) ([]LogEntry, int64, bool, error) {
	file, err := os.Open(h.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, offset, false, nil
		}
		return nil, 0, false, err
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, 0); err != nil {
			return nil, 0, false, err
		}
	}

	logs := []LogEntry{}
	next := offset
	hasMore := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		entry, ok := parseLogLine(line)
		if !ok {
			next += int64(len(line) + 1)
			continue
		}
		if len(logs) == maxResults {
			hasMore = true
			break
		}
		logs = append(logs, entry)
		next += int64(len(line) + 1)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, false, err
	}

	return logs, next, hasMore, nil
}

var (
	logTimeRe  = regexp.MustCompile(`time=(\S+)`)
	logLevelRe = regexp.MustCompile(`level=(\S+)`)
)

// parseLogLine extracts one slog text line. Lines that don't carry the
// time/level/msg triple, like panic traces, are skipped.
func parseLogLine(line string) (LogEntry, bool) {
	timeMatch := logTimeRe.FindStringSubmatch(line)
	levelMatch := logLevelRe.FindStringSubmatch(line)
	msgIdx := strings.Index(line, "msg=")
	if timeMatch == nil || levelMatch == nil || msgIdx < 0 {
		return LogEntry{}, false
	}

	// slog quotes msg only when it contains spaces. Trailing attrs stay
	// part of the message either way.
	msg := line[msgIdx+len("msg="):]
	if rest, ok := strings.CutPrefix(msg, `"`); ok {
		if end := strings.Index(rest, `"`); end >= 0 {
			tail := strings.TrimSpace(rest[end+1:])
			msg = rest[:end]
			if tail != "" {
				msg += " " + tail
			}
		}
	}

	return LogEntry{
		Timestamp: timeMatch[1],
		Level:     strings.ToLower(levelMatch[1]),
		Message:   msg,
	}, true
}
