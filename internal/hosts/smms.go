package hosts

import (
	"context"
	"errors"
	"fmt"

	"github.com/imroc/req/v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

const (
	smmsUploadURL  = "https://sm.ms/api/v2/upload"
	smmsProfileURL = "https://sm.ms/api/v2/profile"

	// maxSMMSFileSize is the free tier cap.
	maxSMMSFileSize = 5 << 20

	// smmsRepeatedCode means the image is already hosted; the response
	// still carries its public link.
	smmsRepeatedCode = "image_repeated"
)

var smmsImageExts = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}

type smmsHost struct {
	client     *req.Client
	bus        *remote.Bus
	uploadURL  string
	profileURL string
}

func newSMMSHost(client *req.Client, bus *remote.Bus) *smmsHost {
	return &smmsHost{
		client:     client,
		bus:        bus,
		uploadURL:  smmsUploadURL,
		profileURL: smmsProfileURL,
	}
}

type smmsUploadResult struct {
	URL    string `json:"url"`
	Hash   string `json:"hash,omitempty"`
	Delete string `json:"delete,omitempty"`
}

type smmsResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    *smmsData `json:"data"`
	Images  string    `json:"images"`
}

type smmsData struct {
	URL    string `json:"url"`
	Delete string `json:"delete"`
	Hash   string `json:"hash"`
}

func (h *smmsHost) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	token, err := stringParam(p, ParamToken)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 0, "reading file", 1, 3)
	if err := checkImage(filePath, maxSMMSFileSize, smmsImageExts); err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 33, "preparing upload", 2, 3)
	publishStep(h.bus, p, 66, "uploading", 3, 3)

	var body smmsResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetFile("smfile", filePath).
		SetSuccessResult(&body).
		Post(h.uploadURL)
	if err := apiError(CommandSMMSUpload, resp, err); err != nil {
		return nil, err
	}

	if !body.Success {
		if body.Code == smmsRepeatedCode && body.Images != "" {
			return &smmsUploadResult{URL: body.Images}, nil
		}
		return nil, fmt.Errorf("smms %s: %s", body.Code, body.Message)
	}
	if body.Data == nil || body.Data.URL == "" {
		return nil, errors.New("smms response has no data")
	}
	return &smmsUploadResult{
		URL:    body.Data.URL,
		Hash:   body.Data.Hash,
		Delete: body.Data.Delete,
	}, nil
}

// check verifies the token against the profile endpoint.
func (h *smmsHost) check(ctx context.Context, p remote.Params) (any, error) {
	token, err := stringParam(p, ParamToken)
	if err != nil {
		return nil, err
	}

	var body smmsResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetSuccessResult(&body).
		Post(h.profileURL)
	if err := apiError(CommandSMMSCheck, resp, err); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("smms %s: %s", body.Code, body.Message)
	}
	return nil, nil
}

// SMMSAdapter uploads to sm.ms with an API token.
type SMMSAdapter struct {
	cfg      *config.SMMSConfig
	contract *uploader.Contract
}

func NewSMMSAdapter(cfg *config.SMMSConfig, contract *uploader.Contract) *SMMSAdapter {
	return &SMMSAdapter{cfg: cfg, contract: contract}
}

func (a *SMMSAdapter) Backend() string {
	return config.BackendSMMS
}

func (a *SMMSAdapter) Validate(up *uploader.UploadRequest) error {
	if a.cfg == nil || a.cfg.Token == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "smms token is not configured")
	}
	return checkImage(up.FilePath, maxSMMSFileSize, smmsImageExts)
}

func (a *SMMSAdapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	params := remote.Params{
		ParamFilePath: up.FilePath,
		ParamToken:    a.cfg.Token,
	}.Merge(up.BackendParams(config.BackendSMMS))

	out, err := a.contract.Execute(ctx, config.BackendSMMS, CommandSMMSUpload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*smmsUploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected smms result type %T", out)
	}
	return &uploader.Result{URL: res.URL, FileKey: res.Hash}, nil
}

// Check probes the profile endpoint with the configured token.
func (a *SMMSAdapter) Check(ctx context.Context) error {
	if a.cfg == nil || a.cfg.Token == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "smms token is not configured")
	}
	_, err := a.contract.Execute(ctx, config.BackendSMMS, CommandSMMSCheck, remote.Params{
		ParamToken: a.cfg.Token,
	}, nil)
	return err
}
