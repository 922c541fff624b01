package hosts

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

type webdavHost struct {
	client *req.Client
	bus    *remote.Bus
}

func newWebDAVHost(client *req.Client, bus *remote.Bus) *webdavHost {
	return &webdavHost{client: client, bus: bus}
}

type webdavUploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

func (h *webdavHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	baseURL, err := stringParam(p, ParamURL)
	if err != nil {
		return nil, err
	}
	username, err := stringParam(p, ParamUsername)
	if err != nil {
		return nil, err
	}
	password, err := stringParam(p, ParamPassword)
	if err != nil {
		return nil, err
	}
	remotePath, _ := p.String(ParamRemotePath)
	publicURL, _ := p.String(ParamPublicURL)

	publishStep(h.bus, p, 0, "reading file", 1, 2)
	data, _, err := utils.ReadFileCapped(filePath, 0)
	if err != nil {
		return nil, err
	}

	key := joinURLPath(remotePath, filepath.Base(filePath))
	target := joinURL(baseURL, key)

	publishStep(h.bus, p, 50, "uploading", 2, 2)
	resp, err := h.put(ctx, target, username, password, filePath, data)

	// a missing parent collection answers 409; create it and go again
	if err == nil && resp.StatusCode == http.StatusConflict && remotePath != "" {
		if mkErr := h.mkcolAll(ctx, baseURL, remotePath, username, password); mkErr != nil {
			return nil, mkErr
		}
		resp, err = h.put(ctx, target, username, password, filePath, data)
	}
	if err := apiError(CommandWebDAVUpload, resp, err); err != nil {
		return nil, err
	}

	link := target
	if publicURL != "" {
		link = joinURL(publicURL, key)
	}
	return &webdavUploadResult{URL: link, Key: key}, nil
}

func (h *webdavHost) put(ctx context.Context, target, username, password, filePath string, data []byte) (*req.Response, error) {
	return h.client.R().
		SetContext(ctx).
		SetBasicAuth(username, password).
		SetContentType(utils.DetectContentType(filePath)).
		SetBodyBytes(data).
		Send(http.MethodPut, target)
}

// mkcolAll creates the remote collection hierarchy, parents first. An
// already existing collection answers 405 and is fine.
func (h *webdavHost) mkcolAll(ctx context.Context, baseURL, remotePath, username, password string) error {
	var prefix string
	for _, seg := range strings.Split(strings.Trim(remotePath, "/"), "/") {
		if seg == "" {
			continue
		}
		prefix = joinURLPath(prefix, seg)
		resp, err := h.client.R().
			SetContext(ctx).
			SetBasicAuth(username, password).
			Send("MKCOL", joinURL(baseURL, prefix))
		if err != nil {
			return fmt.Errorf("http request error: %s: %w", CommandWebDAVUpload, err)
		}
		if resp.IsErrorState() && resp.StatusCode != http.StatusMethodNotAllowed {
			return remote.NewCallError(CommandWebDAVUpload, resp.StatusCode, snippet(resp.String()), nil)
		}
	}
	return nil
}

// check issues a depth-zero PROPFIND against the base collection. 207 is
// the usual answer, plain 200 is accepted too.
func (h *webdavHost) check(ctx context.Context, p remote.Params) (any, error) {
	baseURL, err := stringParam(p, ParamURL)
	if err != nil {
		return nil, err
	}
	username, err := stringParam(p, ParamUsername)
	if err != nil {
		return nil, err
	}
	password, err := stringParam(p, ParamPassword)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetBasicAuth(username, password).
		SetHeader("Depth", "0").
		Send("PROPFIND", baseURL)
	if err := apiError(CommandWebDAVCheck, resp, err); err != nil {
		return nil, err
	}
	return nil, nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func joinURLPath(dir, name string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// WebDAVAdapter uploads to any WebDAV collection with basic auth.
type WebDAVAdapter struct {
	cfg      *config.WebDAVConfig
	contract *uploader.Contract
}

func NewWebDAVAdapter(cfg *config.WebDAVConfig, contract *uploader.Contract) *WebDAVAdapter {
	return &WebDAVAdapter{cfg: cfg, contract: contract}
}

func (a *WebDAVAdapter) Backend() string {
	return config.BackendWebDAV
}

func (a *WebDAVAdapter) Validate(up *uploader.UploadRequest) error {
	if err := a.configured(); err != nil {
		return err
	}
	return checkImage(up.FilePath, 0, nil)
}

func (a *WebDAVAdapter) configured() error {
	if a.cfg == nil || a.cfg.URL == "" || a.cfg.Username == "" || a.cfg.Password == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "webdav url, username and password are not configured")
	}
	return nil
}

func (a *WebDAVAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath:   up.FilePath,
		ParamURL:        a.cfg.URL,
		ParamUsername:   a.cfg.Username,
		ParamPassword:   a.cfg.Password,
		ParamRemotePath: a.cfg.RemotePath,
		ParamPublicURL:  a.cfg.PublicURL,
	}.Merge(up.BackendParams(config.BackendWebDAV))

	out, err := a.contract.Execute(ctx, config.BackendWebDAV, CommandWebDAVUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*webdavUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected webdav result type %T", out)
	}
	return &uploader.Result{URL: res.URL, FileKey: res.Key}, nil
}

// Check probes the base collection with the configured credentials.
func (a *WebDAVAdapter) Check(ctx context.Context) error {
	if err := a.configured(); err != nil {
		return err
	}
	_, err := a.contract.Execute(ctx, config.BackendWebDAV, CommandWebDAVCheck, remote.Params{
		ParamURL:      a.cfg.URL,
		ParamUsername: a.cfg.Username,
		ParamPassword: a.cfg.Password,
	}, nil)
	return err
}
