package hosts

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

type s3Host struct {
	bus *remote.Bus
}

func newS3Host(bus *remote.Bus) *s3Host {
	return &s3Host{bus: bus}
}

type s3UploadResult struct {
	URL  string `json:"url"`
	Key  string `json:"key"`
	ETag string `json:"etag,omitempty"`
}

// clientFromParams builds an S3 client for the endpoint carried in the
// params. Handlers stay stateless, so the client is rebuilt per call.
func (h *s3Host) clientFromParams(ctx context.Context, p remote.Params) (*s3.Client, error) {
	endpoint, err := stringParam(p, ParamEndpoint)
	if err != nil {
		return nil, err
	}
	accessKey, err := stringParam(p, ParamAccessKeyID)
	if err != nil {
		return nil, err
	}
	secretKey, err := stringParam(p, ParamSecretAccessKey)
	if err != nil {
		return nil, err
	}
	region, _ := p.String(ParamRegion)
	if region == "" {
		region = "auto"
	}
	pathStyle, _ := p.Bool(ParamPathStyle)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = pathStyle
	}), nil
}

func (h *s3Host) upload(ctx context.Context, p remote.Params) (any, error) {
	filePath, err := stringParam(p, ParamFilePath)
	if err != nil {
		return nil, err
	}
	bucket, err := stringParam(p, ParamBucket)
	if err != nil {
		return nil, err
	}
	key, err := stringParam(p, ParamKey)
	if err != nil {
		return nil, err
	}
	endpoint, _ := p.String(ParamEndpoint)
	publicDomain, _ := p.String(ParamPublicDomain)

	publishStep(h.bus, p, 0, "reading file", 1, 3)
	data, _, err := utils.ReadFileCapped(filePath, 0)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 33, "creating client", 2, 3)
	client, err := h.clientFromParams(ctx, p)
	if err != nil {
		return nil, err
	}

	publishStep(h.bus, p, 66, "uploading", 3, 3)
	out, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(utils.DetectContentType(filePath)),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}

	res := &s3UploadResult{
		URL: s3PublicURL(endpoint, publicDomain, bucket, key),
		Key: key,
	}
	if out.ETag != nil {
		res.ETag = strings.Trim(*out.ETag, `"`)
	}
	return res, nil
}

// check issues a HeadBucket, which exercises credentials, endpoint and
// bucket in one round trip.
func (h *s3Host) check(ctx context.Context, p remote.Params) (any, error) {
	bucket, err := stringParam(p, ParamBucket)
	if err != nil {
		return nil, err
	}
	client, err := h.clientFromParams(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return nil, nil
}

// s3PublicURL prefers the configured public domain, falling back to the
// path-style endpoint link.
func s3PublicURL(endpoint, publicDomain, bucket, key string) string {
	if publicDomain != "" {
		return strings.TrimSuffix(publicDomain, "/") + "/" + key
	}
	return strings.TrimSuffix(endpoint, "/") + "/" + bucket + "/" + key
}

// S3Adapter uploads to any S3 compatible store, including Cloudflare R2
// via the account-derived endpoint.
type S3Adapter struct {
	cfg      *config.S3Config
	contract *uploader.Contract
}

func NewS3Adapter(cfg *config.S3Config, contract *uploader.Contract) *S3Adapter {
	return &S3Adapter{cfg: cfg, contract: contract}
}

func (a *S3Adapter) Backend() string {
	return config.BackendS3
}

func (a *S3Adapter) Validate(up *uploader.UploadRequest) error {
	if err := a.configured(); err != nil {
		return err
	}
	return checkImage(up.FilePath, 0, nil)
}

func (a *S3Adapter) configured() error {
	if a.cfg == nil || a.cfg.AccessKeyID == "" || a.cfg.SecretAccessKey == "" || a.cfg.Bucket == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "s3 credentials and bucket are not configured")
	}
	if a.cfg.Endpoint == "" && a.cfg.AccountID == "" {
		return uploader.NewStructuredError(uploader.KindConfigMissing, "s3 endpoint or account_id is not configured")
	}
	return nil
}

// objectKey derives the storage key: an optional configured prefix, a
// short content hash and the original name. The hash keeps repeated
// names from clobbering each other.
func (a *S3Adapter) objectKey(filePath string) (string, error) {
	hash, err := utils.ShortFileHash(filePath, 8)
	if err != nil {
		return "", fmt.Errorf("hash upload source: %w", err)
	}
	name := hash + "_" + filepath.Base(filePath)
	if dir := strings.Trim(a.cfg.Path, "/"); dir != "" {
		return dir + "/" + name, nil
	}
	return name, nil
}

func (a *S3Adapter) Upload(ctx context.Context, up *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	key, err := a.objectKey(up.FilePath)
	if err != nil {
		return nil, err
	}

	params := remote.Params{
		ParamFilePath:        up.FilePath,
		ParamEndpoint:        a.cfg.ResolveEndpoint(),
		ParamAccessKeyID:     a.cfg.AccessKeyID,
		ParamSecretAccessKey: a.cfg.SecretAccessKey,
		ParamRegion:          a.cfg.ResolveRegion(),
		ParamBucket:          a.cfg.Bucket,
		ParamKey:             key,
		ParamPublicDomain:    a.cfg.PublicDomain,
		ParamPathStyle:       a.cfg.PathStyle,
	}.Merge(up.BackendParams(config.BackendS3))

	out, err := a.contract.Execute(ctx, config.BackendS3, CommandS3Upload, params, updates)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*s3UploadResult)
	if !ok {
		return nil, fmt.Errorf("unexpected s3 result type %T", out)
	}
	return &uploader.Result{URL: res.URL, FileKey: res.Key}, nil
}

// Check heads the configured bucket.
func (a *S3Adapter) Check(ctx context.Context) error {
	if err := a.configured(); err != nil {
		return err
	}
	_, err := a.contract.Execute(ctx, config.BackendS3, CommandS3Check, remote.Params{
		ParamEndpoint:        a.cfg.ResolveEndpoint(),
		ParamAccessKeyID:     a.cfg.AccessKeyID,
		ParamSecretAccessKey: a.cfg.SecretAccessKey,
		ParamRegion:          a.cfg.ResolveRegion(),
		ParamBucket:          a.cfg.Bucket,
		ParamPathStyle:       a.cfg.PathStyle,
	}, nil)
	return err
}
