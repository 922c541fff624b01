package config

import (
	"fmt"
	"net/url"

	"github.com/pixrelay/pixrelay/internal/utils"
)

// Backend ids in canonical order. Aggregate results and CLI output follow
// this order when no explicit request order exists.
var CanonicalOrder = []string{
	BackendWeibo,
	BackendSMMS,
	BackendNowcoder,
	BackendJD,
	BackendGithub,
	BackendS3,
	BackendWebDAV,
}

const (
	BackendWeibo    = "weibo"
	BackendSMMS     = "smms"
	BackendNowcoder = "nowcoder"
	BackendJD       = "jd"
	BackendGithub   = "github"
	BackendS3       = "s3"
	BackendWebDAV   = "webdav"
)

const (
	DefaultWeiboIntervalMs    = 1000
	DefaultNowcoderBatchLimit = 10
	DefaultNowcoderCooldownMs = 38000
	DefaultGithubBranch       = "master"
)

type BackendsConfig struct {
	Weibo    *WeiboConfig    `json:"weibo,omitempty"`
	SMMS     *SMMSConfig     `json:"smms,omitempty"`
	Nowcoder *NowcoderConfig `json:"nowcoder,omitempty"`
	JD       *JDConfig       `json:"jd,omitempty"`
	Github   *GithubConfig   `json:"github,omitempty"`
	S3       *S3Config       `json:"s3,omitempty"`
	WebDAV   *WebDAVConfig   `json:"webdav,omitempty"`
}

type WeiboConfig struct {
	Cookie        string `json:"cookie"`
	MinIntervalMs int    `json:"min_interval_ms,omitempty"`
}

type SMMSConfig struct {
	Token string `json:"token"`
}

type NowcoderConfig struct {
	Cookie          string `json:"cookie"`
	BatchLimit      int    `json:"batch_limit,omitempty"`
	BatchCooldownMs int    `json:"batch_cooldown_ms,omitempty"`
}

// JDConfig carries no credentials. The upload flow fetches a fresh aid/pin
// pair from a public endpoint on every attempt, so an empty section enables
// the backend.
type JDConfig struct{}

type GithubConfig struct {
	Token    string `json:"token"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Branch   string `json:"branch,omitempty"`
	Path     string `json:"path,omitempty"`
	JSDelivr bool   `json:"jsdelivr,omitempty"`
}

type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`
	AccountID       string `json:"account_id,omitempty"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region,omitempty"`
	Path            string `json:"path,omitempty"`
	PublicDomain    string `json:"public_domain,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty"`
}

type WebDAVConfig struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	RemotePath string `json:"remote_path,omitempty"`
	PublicURL  string `json:"public_url,omitempty"`
}

// Enabled returns the configured backend ids in canonical order.
func (b *BackendsConfig) Enabled() []string {
	var ids []string
	for _, id := range CanonicalOrder {
		if b.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *BackendsConfig) Has(id string) bool {
	switch id {
	case BackendWeibo:
		return b.Weibo != nil
	case BackendSMMS:
		return b.SMMS != nil
	case BackendNowcoder:
		return b.Nowcoder != nil
	case BackendJD:
		return b.JD != nil
	case BackendGithub:
		return b.Github != nil
	case BackendS3:
		return b.S3 != nil
	case BackendWebDAV:
		return b.WebDAV != nil
	}
	return false
}

func (b *BackendsConfig) Validate() error {
	if b.Weibo != nil && b.Weibo.Cookie == "" {
		return fmt.Errorf("backend %s: cookie is required", BackendWeibo)
	}
	if b.SMMS != nil && b.SMMS.Token == "" {
		return fmt.Errorf("backend %s: token is required", BackendSMMS)
	}
	if b.Nowcoder != nil && b.Nowcoder.Cookie == "" {
		return fmt.Errorf("backend %s: cookie is required", BackendNowcoder)
	}
	if b.Github != nil {
		g := b.Github
		if g.Token == "" || g.Owner == "" || g.Repo == "" {
			return fmt.Errorf("backend %s: token, owner and repo are required", BackendGithub)
		}
	}
	if b.S3 != nil {
		s := b.S3
		if s.AccessKeyID == "" || s.SecretAccessKey == "" || s.Bucket == "" {
			return fmt.Errorf("backend %s: access_key_id, secret_access_key and bucket are required", BackendS3)
		}
		if s.Endpoint == "" && s.AccountID == "" {
			return fmt.Errorf("backend %s: either endpoint or account_id is required", BackendS3)
		}
		if s.Endpoint != "" {
			if _, err := url.ParseRequestURI(s.Endpoint); err != nil {
				return fmt.Errorf("backend %s: endpoint %q: %w", BackendS3, s.Endpoint, err)
			}
		}
	}
	if b.WebDAV != nil {
		w := b.WebDAV
		if w.URL == "" || w.Username == "" || w.Password == "" {
			return fmt.Errorf("backend %s: url, username and password are required", BackendWebDAV)
		}
		if _, err := url.ParseRequestURI(w.URL); err != nil {
			return fmt.Errorf("backend %s: url %q: %w", BackendWebDAV, w.URL, err)
		}
	}
	return nil
}

func (b *BackendsConfig) masked() BackendsConfig {
	out := BackendsConfig{}
	if b.Weibo != nil {
		cp := *b.Weibo
		cp.Cookie = utils.MaskSecret(cp.Cookie)
		out.Weibo = &cp
	}
	if b.SMMS != nil {
		cp := *b.SMMS
		cp.Token = utils.MaskSecret(cp.Token)
		out.SMMS = &cp
	}
	if b.Nowcoder != nil {
		cp := *b.Nowcoder
		cp.Cookie = utils.MaskSecret(cp.Cookie)
		out.Nowcoder = &cp
	}
	if b.JD != nil {
		cp := *b.JD
		out.JD = &cp
	}
	if b.Github != nil {
		cp := *b.Github
		cp.Token = utils.MaskSecret(cp.Token)
		out.Github = &cp
	}
	if b.S3 != nil {
		cp := *b.S3
		cp.SecretAccessKey = utils.MaskSecret(cp.SecretAccessKey)
		out.S3 = &cp
	}
	if b.WebDAV != nil {
		cp := *b.WebDAV
		cp.Password = utils.MaskSecret(cp.Password)
		out.WebDAV = &cp
	}
	return out
}

func (b *BackendsConfig) expandEnv() {
	if b.Weibo != nil {
		b.Weibo.Cookie = expandEnv(b.Weibo.Cookie)
	}
	if b.SMMS != nil {
		b.SMMS.Token = expandEnv(b.SMMS.Token)
	}
	if b.Nowcoder != nil {
		b.Nowcoder.Cookie = expandEnv(b.Nowcoder.Cookie)
	}
	if b.Github != nil {
		b.Github.Token = expandEnv(b.Github.Token)
	}
	if b.S3 != nil {
		b.S3.AccessKeyID = expandEnv(b.S3.AccessKeyID)
		b.S3.SecretAccessKey = expandEnv(b.S3.SecretAccessKey)
	}
	if b.WebDAV != nil {
		b.WebDAV.Username = expandEnv(b.WebDAV.Username)
		b.WebDAV.Password = expandEnv(b.WebDAV.Password)
	}
}

// IntervalMs returns the configured weibo pacing interval with default.
func (w *WeiboConfig) IntervalMs() int {
	if w.MinIntervalMs > 0 {
		return w.MinIntervalMs
	}
	return DefaultWeiboIntervalMs
}

// BatchSettings returns the nowcoder window size and cooldown with defaults.
func (n *NowcoderConfig) BatchSettings() (limit, cooldownMs int) {
	limit = n.BatchLimit
	if limit <= 0 {
		limit = DefaultNowcoderBatchLimit
	}
	cooldownMs = n.BatchCooldownMs
	if cooldownMs <= 0 {
		cooldownMs = DefaultNowcoderCooldownMs
	}
	return limit, cooldownMs
}

// Ref returns the github branch with default.
func (g *GithubConfig) Ref() string {
	if g.Branch != "" {
		return g.Branch
	}
	return DefaultGithubBranch
}

// ResolveEndpoint returns the explicit endpoint, or the Cloudflare R2
// endpoint derived from the account id.
func (s *S3Config) ResolveEndpoint() string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
}

// ResolveRegion returns the configured region, defaulting to "auto" which is
// what R2 and most S3-compatible stores expect.
func (s *S3Config) ResolveRegion() string {
	if s.Region != "" {
		return s.Region
	}
	return "auto"
}
