package hosts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
	"github.com/pixrelay/pixrelay/internal/version"
)

const (
	githubAPIBase     = "https://api.github.com"
	githubAcceptJSON  = "application/vnd.github.v3+json"
	maxGithubFileSize = 25 << 20
)

type githubHost struct {
	client  *req.Client
	bus     *remote.Bus
	apiBase string
}

func newGithubHost(client *req.Client, bus *remote.Bus) *githubHost {
	return &githubHost{
		client:  client,
		bus:     bus,
		apiBase: githubAPIBase,
	}
}

type githubUploadResult struct {
	URL        string `json:"url"`
	SHA        string `json:"sha,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
}

type githubContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
}

type githubContentResponse struct {
	Content struct {
		DownloadURL string `json:"download_url"`
		SHA         string `json:"sha"`
	} `json:"content"`
}

func (h *githubHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	token, err := stringParam(p, ParamToken)
	if err != nil {
		return nil, err
	}
	owner, err := stringParam(p, ParamOwner)
	if err != nil {
		return nil, err
	}
	repo, err := stringParam(p, ParamRepo)
	if err != nil {
		return nil, err
	}
	branch, _ := p.String(ParamBranch)
	if branch == "" {
		branch = config.DefaultGithubBranch
	}
	dir, _ := p.String(ParamPath)

	publishStep(h.bus, p, 0, "reading file", 1, 3)
	data, _, err := utils.ReadFileCapped(filePath, maxGithubFileSize)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 33, "encoding file", 2, 3)
	content := base64.StdEncoding.EncodeToString(data)

	name := filepath.Base(filePath)
	remotePath := githubRemotePath(dir, name)

	publishStep(h.bus, p, 66, "uploading", 3, 3)

	var body githubContentResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "token "+token).
		SetHeader("Accept", githubAcceptJSON).
		SetBody(&githubContentRequest{
			Message: fmt.Sprintf("Upload %s via %s", name, version.AppName),
			Content: content,
			Branch:  branch,
		}).
		SetSuccessResult(&body).
		Put(h.contentsURL(owner, repo, remotePath))
	// github signals its API quota with 403, not 429
	if err == nil && resp.StatusCode == http.StatusForbidden {
		return nil, uploader.NewStructuredError(uploader.KindRateLimited, "github api rate limit exceeded")
	}
	if err := apiError(CommandGithubUpload, resp, err); err != nil {
		return nil, err
	}

	if body.Content.DownloadURL == "" {
		return nil, errors.New("github response has no download url")
	}
	return &githubUploadResult{
		URL:        body.Content.DownloadURL,
		SHA:        body.Content.SHA,
		RemotePath: remotePath,
	}, nil
}

// check fetches the repository metadata, verifying both the token and
// the owner/repo pair.
func (h *githubHost) check(ctx context.Context, p remote.Params) (any, error) {
	token, err := stringParam(p, ParamToken)
	if err != nil {
		return nil, err
	}
	owner, err := stringParam(p, ParamOwner)
	if err != nil {
		return nil, err
	}
	repo, err := stringParam(p, ParamRepo)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "token "+token).
		SetHeader("Accept", githubAcceptJSON).
		Get(h.apiBase + "/repos/" + owner + "/" + repo)
	if err := apiError(CommandGithubCheck, resp, err); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *githubHost) contentsURL(owner, repo, remotePath string) string {
	return h.apiBase + "/repos/" + owner + "/" + repo + "/contents/" + encodePathSegments(remotePath)
}

// githubRemotePath joins the configured directory with the file name.
func githubRemotePath(dir, name string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// encodePathSegments escapes each segment on its own so the separators
// survive.
func encodePathSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// JSDelivrURL rewrites a repo path onto the jsDelivr CDN, which serves
// raw files faster than raw.githubusercontent.com in most regions.
func JSDelivrURL(owner, repo, branch, remotePath string) string {
	return fmt.Sprintf("https://cdn.jsdelivr.net/gh/%s/%s@%s/%s", owner, repo, branch, remotePath)
}

// GithubAdapter commits files into a repository through the contents
// API.
type GithubAdapter struct {
	cfg      *config.GithubConfig
	contract *uploader.Contract
}

func NewGithubAdapter(cfg *config.GithubConfig, contract *uploader.Contract) *GithubAdapter {
	return &GithubAdapter{cfg: cfg, contract: contract}
}

func (a *GithubAdapter) Backend() string {
	return config.BackendGithub
}

func (a *GithubAdapter) Validate(up *uploader.UploadRequest) error {
	if a.cfg == nil || a.cfg.Token == "" || a.cfg.Owner == "" || a.cfg.Repo == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "github token, owner and repo are not configured")
	}
	return checkImage(up.FilePath, maxGithubFileSize, nil)
}

func (a *GithubAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath: up.FilePath,
		ParamToken:    a.cfg.Token,
		ParamOwner:    a.cfg.Owner,
		ParamRepo:     a.cfg.Repo,
		ParamBranch:   a.cfg.Ref(),
		ParamPath:     a.cfg.Path,
	}.Merge(up.BackendParams(config.BackendGithub))

	out, err := a.contract.Execute(ctx, config.BackendGithub, CommandGithubUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*githubUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected github result type %T", out)
	}

	link := res.URL
	if a.cfg.JSDelivr {
		link = JSDelivrURL(a.cfg.Owner, a.cfg.Repo, a.cfg.Ref(), res.RemotePath)
	}
	return &uploader.Result{URL: link, FileKey: res.RemotePath}, nil
}

// Check verifies the token can see the configured repository.
func (a *GithubAdapter) Check(ctx context.Context) error {
	if a.cfg == nil || a.cfg.Token == "" || a.cfg.Owner == "" || a.cfg.Repo == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "github token, owner and repo are not configured")
	}
	_, err := a.contract.Execute(ctx, config.BackendGithub, CommandGithubCheck, remote.Params{
		ParamToken: a.cfg.Token,
		ParamOwner: a.cfg.Owner,
		ParamRepo:  a.cfg.Repo,
	}, nil)
	return err
}
