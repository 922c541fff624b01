package hosts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

const (
	jdAidInfoURL   = "https://api.m.jd.com/client.action?functionId=getAidInfo&body=%7B%22aidClientType%22%3A%22comet%22%2C%22aidClientVersion%22%3A%22comet%20-v1.0.0%22%2C%22appId%22%3A%22im.customer%22%2C%22os%22%3A%22comet%22%2C%22entry%22%3A%22jd_web_EnterpriseZC%22%2C%22reqSrc%22%3A%22s_comet%22%2C%22siteId%22%3A-1%2C%22customerAppId%22%3A%22im.customer%22%7D&appid=wh5&client=wh5&clientVersion=1.0.0&loginType=3&callback=jsonp1"
	jdUploadImgURL = "https://file-dd.jd.com/file/uploadImg.action"
	jdReferer      = "https://jdcs.jd.com/chat/index.action?venderId=1&appId=jd.waiter&customerAppId=im.customer&entry=jd_web_EnterpriseZC"
	jdOrigin       = "https://jdcs.jd.com"

	maxJDFileSize = 15 << 20
)

var jdImageExts = []string{"jpg", "jpeg", "png", "gif"}

type jdHost struct {
	client    *req.Client
	bus       *remote.Bus
	aidURL    string
	uploadURL string
}

func newJDHost(client *req.Client, bus *remote.Bus) *jdHost {
	return &jdHost{
		client:    client,
		bus:       bus,
		aidURL:    jdAidInfoURL,
		uploadURL: jdUploadImgURL,
	}
}

type jdAidInfo struct {
	Aid string `json:"aid"`
	Pin string `json:"pin"`
}

type jdUploadResult struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type jdUploadResponse struct {
	Code int    `json:"code"`
	Path string `json:"path"`
}

// aidInfo fetches the anonymous upload credential pair. The endpoint
// answers JSONP, so the wrapper is stripped before decoding.
func (h *jdHost) aidInfo(ctx context.Context) (*jdAidInfo, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8").
		SetHeader("Referer", jdReferer).
		Get(h.aidURL)
	if err := apiError(CommandJDCheck, resp, err); err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(resp.String())
	body, ok := strings.CutPrefix(raw, "jsonp1(")
	if !ok {
		return nil, fmt.Errorf("jd aid response is not jsonp: %s", snippet(raw))
	}
	body, ok = strings.CutSuffix(body, ")")
	if !ok {
		return nil, fmt.Errorf("jd aid response is not jsonp: %s", snippet(raw))
	}

	var info jdAidInfo
	if err := jsonUnmarshal([]byte(body), &info); err != nil {
		return nil, fmt.Errorf("decode jd aid response: %w", err)
	}
	if info.Aid == "" {
		return nil, errors.New("jd aid response has no aid")
	}
	return &info, nil
}

func (h *jdHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 0, "reading file", 1, 4)
	if err := checkImage(filePath, maxJDFileSize, jdImageExts); err != nil {
		return nil, err
	}
	data, size, err := utils.ReadFileCapped(filePath, maxJDFileSize)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 25, "fetching upload credential", 2, 4)
	info, err := h.aidInfo(ctx)
	if err != nil {
		return nil, err
	}

	// the backend rejects upper case extensions
	name := filepath.Base(filePath)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext) + strings.ToLower(ext)
	}

	publishStep(h.bus, p, 50, "uploading", 3, 4)

	var body jdUploadResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Origin", jdOrigin).
		SetHeader("Referer", jdReferer).
		SetFileBytes("upload", name, data).
		SetFormData(map[string]string{
			"appId":      "im.customer",
			"aid":        info.Aid,
			"clientType": "comet",
			"pin":        info.Pin,
		}).
		SetSuccessResult(&body).
		Post(h.uploadURL)
	if err := apiError(CommandJDUpload, resp, err); err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 75, "processing response", 4, 4)

	if body.Code != 0 {
		return nil, fmt.Errorf("jd api error code %d", body.Code)
	}
	if body.Path == "" {
		return nil, errors.New("jd response has no image url")
	}
	return &jdUploadResult{URL: body.Path, Size: size}, nil
}

// check probes the aid endpoint, which is the cheapest reachability
// signal the service offers.
func (h *jdHost) check(ctx context.Context, p remote.Params) (any, error) {
	_, err := h.aidInfo(ctx)
	return nil, err
}

// JDAdapter uploads through the anonymous aid/pin flow, no account
// credentials involved.
type JDAdapter struct {
	cfg      *config.JDConfig
	contract *uploader.Contract
}

func NewJDAdapter(cfg *config.JDConfig, contract *uploader.Contract) *JDAdapter {
	return &JDAdapter{cfg: cfg, contract: contract}
}

func (a *JDAdapter) Backend() string {
	return config.BackendJD
}

func (a *JDAdapter) Validate(up *uploader.UploadRequest) error {
	if a.cfg == nil {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "jd backend is not enabled")
	}
	return checkImage(up.FilePath, maxJDFileSize, jdImageExts)
}

func (a *JDAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath: up.FilePath,
	}.Merge(up.BackendParams(config.BackendJD))

	out, err := a.contract.Execute(ctx, config.BackendJD, CommandJDUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*jdUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected jd result type %T", out)
	}
	return &uploader.Result{URL: res.URL}, nil
}

// Check reports whether the aid endpoint is reachable.
func (a *JDAdapter) Check(ctx context.Context) error {
	_, err := a.contract.Execute(ctx, config.BackendJD, CommandJDCheck, remote.Params{}, nil)
	return err
}
