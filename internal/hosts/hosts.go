// Package hosts implements the per-backend upload commands and their
// adapters. Command handlers are stateless: every call carries its full
// parameter set, credentials included, so the dispatcher side holds no
// per-user state. Adapters sit on the other side of the contract and
// translate typed backend config into those parameters.
package hosts

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/pixmsg"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

// browserUserAgent matches a desktop browser. The cookie-authenticated
// hosts reject clients that look like bots.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTPClient is shared by every host command. Retries stay off: pacing
// is the gates' job and re-driving failures belongs to the retry
// coordinator, not the transport.
var HTTPClient = req.C().
	SetTimeout(120 * time.Second).
	SetUserAgent(browserUserAgent).
	SetJsonMarshal(jsonMarshal).
	SetJsonUnmarshal(jsonUnmarshal)

// Command names on the dispatcher. The upload commands implement the
// uniform contract; the check commands back cheap connectivity tests.
const (
	CommandWeiboUpload    = "weibo.upload"
	CommandSMMSUpload     = "smms.upload"
	CommandSMMSCheck      = "smms.check"
	CommandNowcoderUpload = "nowcoder.upload"
	CommandJDUpload       = "jd.upload"
	CommandJDCheck        = "jd.check"
	CommandGithubUpload   = "github.upload"
	CommandGithubCheck    = "github.check"
	CommandS3Upload       = "s3.upload"
	CommandS3Check        = "s3.check"
	CommandWebDAVUpload   = "webdav.upload"
	CommandWebDAVCheck    = "webdav.check"
)

// Parameter keys shared across host commands.
const (
	ParamFilePath        = "file_path"
	ParamCookie          = "cookie"
	ParamToken           = "token"
	ParamOwner           = "owner"
	ParamRepo            = "repo"
	ParamBranch          = "branch"
	ParamPath            = "path"
	ParamEndpoint        = "endpoint"
	ParamAccessKeyID     = "access_key_id"
	ParamSecretAccessKey = "secret_access_key"
	ParamRegion          = "region"
	ParamBucket          = "bucket"
	ParamKey             = "key"
	ParamPublicDomain    = "public_domain"
	ParamPathStyle       = "path_style"
	ParamURL             = "url"
	ParamUsername        = "username"
	ParamPassword        = "password"
	ParamRemotePath      = "remote_path"
	ParamPublicURL       = "public_url"
)

// maxErrorBody caps how much response text is carried inside an error.
const maxErrorBody = 300

// stringParam fetches a required string parameter. A missing value is a
// config problem, not a transient one.
func stringParam(p remote.Params, key string) (string, error) {
	v, ok := p.String(key)
	if !ok || v == "" {
		return "", uploader.NewStructuredError(uploader.KindConfigMissing, fmt.Sprintf("missing parameter %q", key))
	}
	return v, nil
}

// apiError converts a failed request into an error the classifier can
// work with. Transport failures pass through; an HTTP error state
// becomes a CallError carrying status and a body snippet.
func apiError(command string, resp *req.Response, requestErr error) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", command, requestErr)
	}
	if resp.IsErrorState() {
		return remote.NewCallError(command, resp.StatusCode, snippet(resp.String()), nil)
	}
	return nil
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > maxErrorBody {
		return body[:maxErrorBody]
	}
	return body
}

// checkImage enforces a host's extension allowlist and size cap before
// any bytes leave the machine. A nil allowlist admits any extension, a
// zero cap disables the size check.
func checkImage(path string, maxBytes int64, exts []string) error {
	if len(exts) > 0 {
		ext := utils.FileExt(path)
		allowed := false
		for _, e := range exts {
			if e == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			return uploader.NewStructuredError(uploader.KindConfigMissing,
				fmt.Sprintf("unsupported image format %q, accepted: %s", ext, strings.Join(exts, ", ")))
		}
	}
	if maxBytes > 0 {
		size, err := utils.FileSize(path)
		if err != nil {
			return fmt.Errorf("stat upload source: %w", err)
		}
		if size > maxBytes {
			return uploader.NewStructuredError(uploader.KindFileTooLarge,
				fmt.Sprintf("file is %s, limit is %s", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(maxBytes))))
		}
	}
	return nil
}

// publishStep emits a coarse step event for the attempt carried in the
// params. Calls without an attempt id stay silent, which keeps direct
// dispatcher invocations valid.
func publishStep(bus *remote.Bus, p remote.Params, done uint64, step string, stepIndex, totalSteps int) {
	if bus == nil {
		return
	}
	attemptID, _ := p.String(remote.ParamAttemptID)
	if attemptID == "" {
		return
	}
	bus.Publish(pixmsg.NewStepProgress(attemptID, done, 100, step, stepIndex, totalSteps))
}

// publishBytes emits a raw done/total event for hosts that report byte
// counts instead of steps.
func publishBytes(bus *remote.Bus, p remote.Params, done, total uint64) {
	if bus == nil {
		return
	}
	attemptID, _ := p.String(remote.ParamAttemptID)
	if attemptID == "" {
		return
	}
	bus.Publish(pixmsg.NewProgress(attemptID, done, total))
}
