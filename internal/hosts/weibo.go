package hosts

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

const (
	weiboUploadURL = "https://picupload.weibo.com/interface/pic_upload.php?s=xml&ori=1&data=1&rotate=0&wm=&app=miniblog&mime=image/jpeg"
	weiboReferer   = "https://photo.weibo.com/"
	weiboOrigin    = "https://photo.weibo.com"

	// weiboAuthExpiredCode shows up inside the response payload when the
	// session cookie is stale.
	weiboAuthExpiredCode = "100006"
)

type weiboHost struct {
	client    *req.Client
	bus       *remote.Bus
	uploadURL string
}

func newWeiboHost(client *req.Client, bus *remote.Bus) *weiboHost {
	return &weiboHost{
		client:    client,
		bus:       bus,
		uploadURL: weiboUploadURL,
	}
}

type weiboUploadResult struct {
	PID    string `json:"pid"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

// upload posts the raw file body to the legacy pic_upload endpoint and
// scans the XML-ish response for the picture id.
func (h *weiboHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	cookie, err := stringParam(p, ParamCookie)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read upload source: %w", err)
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Cookie", cookie).
		SetHeader("Referer", weiboReferer).
		SetHeader("Origin", weiboOrigin).
		SetContentType("application/octet-stream").
		SetBodyBytes(data).
		Post(h.uploadURL)
	if err := apiError(CommandWeiboUpload, resp, err); err != nil {
		return nil, err
	}

	res, err := parseWeiboResponse(resp.String())
	if err != nil {
		return nil, err
	}
	publishBytes(h.bus, p, uint64(len(data)), uint64(len(data)))
	return res, nil
}

// parseWeiboResponse extracts the interesting tags by scanning. The
// payload is not well formed XML, a real decoder chokes on it.
func parseWeiboResponse(body string) (*weiboUploadResult, error) {
	if strings.Contains(body, "<data>"+weiboAuthExpiredCode+"</data>") {
		return nil, uploader.NewStructuredError(uploader.KindAuthExpired,
			"weibo cookie expired (code "+weiboAuthExpiredCode+")")
	}

	pid := xmlTagValue(body, "pid")
	if pid == "" {
		return nil, fmt.Errorf("weibo response has no pid: %s", snippet(body))
	}

	res := &weiboUploadResult{
		PID: pid,
		URL: WeiboImageURL(pid),
	}
	res.Width, _ = strconv.Atoi(xmlTagValue(body, "width"))
	res.Height, _ = strconv.Atoi(xmlTagValue(body, "height"))
	res.Size, _ = strconv.ParseInt(xmlTagValue(body, "size"), 10, 64)
	return res, nil
}

// xmlTagValue returns the text between <tag> and </tag>, or "".
func xmlTagValue(body, tag string) string {
	open, end := "<"+tag+">", "</"+tag+">"
	start := strings.Index(body, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	stop := strings.Index(body[start:], end)
	if stop < 0 {
		return ""
	}
	return body[start : start+stop]
}

// WeiboImageURL builds the public CDN link for an uploaded picture id.
func WeiboImageURL(pid string) string {
	return fmt.Sprintf("https://tvax1.sinaimg.cn/large/%s.jpg", pid)
}

// WeiboAdapter uploads through the account's web session cookie.
type WeiboAdapter struct {
	cfg      *config.WeiboConfig
	contract *uploader.Contract
}

func NewWeiboAdapter(cfg *config.WeiboConfig, contract *uploader.Contract) *WeiboAdapter {
	return &WeiboAdapter{cfg: cfg, contract: contract}
}

func (a *WeiboAdapter) Backend() string {
	return config.BackendWeibo
}

func (a *WeiboAdapter) Validate(up *uploader.UploadRequest) error {
	if a.cfg == nil || a.cfg.Cookie == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "weibo cookie is not configured")
	}
	return nil
}

func (a *WeiboAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath: up.FilePath,
		ParamCookie:   a.cfg.Cookie,
	}.Merge(up.BackendParams(config.BackendWeibo))

	out, err := a.contract.Execute(ctx, config.BackendWeibo, CommandWeiboUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*weiboUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected weibo result type %T", out)
	}
	return &uploader.Result{URL: res.URL, FileKey: res.PID}, nil
}
