package hosts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

const (
	nowcoderUploadURL = "https://www.nowcoder.com/uploadImage"
	nowcoderReferer   = "https://www.nowcoder.com/creation/write/article"
	nowcoderOrigin    = "https://www.nowcoder.com"
)

var nowcoderImageExts = []string{"jpg", "jpeg", "png", "gif"}

type nowcoderHost struct {
	client    *req.Client
	bus       *remote.Bus
	uploadURL string
}

func newNowcoderHost(client *req.Client, bus *remote.Bus) *nowcoderHost {
	return &nowcoderHost{
		client:    client,
		bus:       bus,
		uploadURL: nowcoderUploadURL,
	}
}

type nowcoderUploadResult struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type nowcoderResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	URL  string `json:"url"`
}

func (h *nowcoderHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	cookie, err := stringParam(p, ParamCookie)
	if err != nil {
		return nil, err
	}

	if err := checkImage(filePath, 0, nowcoderImageExts); err != nil {
		return nil, err
	}
	size, err := utils.FileSize(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	var body nowcoderResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Cookie", cookie).
		SetHeader("Referer", nowcoderReferer).
		SetHeader("Origin", nowcoderOrigin).
		SetQueryParam("type", "1").
		SetQueryParam("_", strconv.FormatInt(time.Now().UnixMilli(), 10)).
		SetFile("file", filePath).
		SetSuccessResult(&body).
		Post(h.uploadURL)
	if err := apiError(CommandNowcoderUpload, resp, err); err != nil {
		return nil, err
	}

	if body.Code != 0 {
		return nil, fmt.Errorf("nowcoder api error %d: %s", body.Code, body.Msg)
	}
	if body.URL == "" {
		return nil, errors.New("nowcoder response has no image url")
	}

	publishBytes(h.bus, p, uint64(size), uint64(size))
	return &nowcoderUploadResult{
		URL:  rewriteNowcoderURL(body.URL),
		Size: size,
	}, nil
}

// rewriteNowcoderURL upgrades the scheme and strips the /compress/<seg>
// segment so the link points at the original image instead of a
// downscaled copy.
func rewriteNowcoderURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		raw = "https://" + strings.TrimPrefix(raw, "http://")
	}
	const marker = "/compress/"
	pos := strings.Index(raw, marker)
	if pos < 0 {
		return raw
	}
	rest := raw[pos+len(marker):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return raw
	}
	return raw[:pos] + rest[slash:]
}

// NowcoderAdapter uploads through the account's web session cookie. The
// service enforces a hard per-batch quota, so its dispatches run behind
// a batch gate.
type NowcoderAdapter struct {
	cfg      *config.NowcoderConfig
	contract *uploader.Contract
}

func NewNowcoderAdapter(cfg *config.NowcoderConfig, contract *uploader.Contract) *NowcoderAdapter {
	return &NowcoderAdapter{cfg: cfg, contract: contract}
}

func (a *NowcoderAdapter) Backend() string {
	return config.BackendNowcoder
}

func (a *NowcoderAdapter) Validate(up *uploader.UploadRequest) error {
	if a.cfg == nil || a.cfg.Cookie == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "nowcoder cookie is not configured")
	}
	return checkImage(up.FilePath, 0, nowcoderImageExts)
}

func (a *NowcoderAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath: up.FilePath,
		ParamCookie:   a.cfg.Cookie,
	}.Merge(up.BackendParams(config.BackendNowcoder))

	out, err := a.contract.Execute(ctx, config.BackendNowcoder, CommandNowcoderUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*nowcoderUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected nowcoder result type %T", out)
	}
	return &uploader.Result{URL: res.URL}, nil
}
