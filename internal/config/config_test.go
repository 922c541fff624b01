package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Path = path
	cfg.Daemon.Token = "super-secret-token"
	cfg.Backends.SMMS = &SMMSConfig{Token: "smms-token"}
	cfg.Backends.Github = &GithubConfig{Token: "gh-token", Owner: "octo", Repo: "pics"}

	require.NoError(t, cfg.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path)
	assert.Equal(t, "super-secret-token", loaded.Daemon.Token)
	assert.Equal(t, DefaultDaemonAddr, loaded.Daemon.Addr)
	require.NotNil(t, loaded.Backends.SMMS)
	assert.Equal(t, "smms-token", loaded.Backends.SMMS.Token)
	require.NotNil(t, loaded.Backends.Github)
	assert.Equal(t, "master", loaded.Backends.Github.Ref())
}

func TestConfig_LoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestConfig_LoadExpandsEnv(t *testing.T) {
	t.Setenv("PIXRELAY_TEST_SMMS_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"daemon": {"addr": "127.0.0.1:7938"},
		"backends": {
			"smms": {"token": "${PIXRELAY_TEST_SMMS_TOKEN}"},
			"weibo": {"cookie": "SUB=abc$def"}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backends.SMMS.Token)
	// plain $ is not expansion syntax and must survive
	assert.Equal(t, "SUB=abc$def", cfg.Backends.Weibo.Cookie)
}

func TestConfig_LoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"backends": {"github": {"token": "t"}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github")
}

func TestConfig_ValidateDaemonAddr(t *testing.T) {
	cfg := Default()
	cfg.Daemon.Addr = "not-an-addr"
	assert.Error(t, cfg.Validate())

	cfg.Daemon.Addr = "0.0.0.0:9000"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Masked(t *testing.T) {
	cfg := Default()
	cfg.Daemon.Token = "daemon-token-value"
	cfg.Backends.S3 = &S3Config{
		AccountID:       "acct",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "very-secret-key",
		Bucket:          "imgs",
	}
	cfg.Backends.WebDAV = &WebDAVConfig{
		URL:      "https://dav.example.com",
		Username: "me",
		Password: "hunter22",
	}

	masked := cfg.Masked()

	assert.Equal(t, "daem*****", masked.Daemon.Token)
	assert.Equal(t, "very*****", masked.Backends.S3.SecretAccessKey)
	assert.Equal(t, "AKIAEXAMPLE", masked.Backends.S3.AccessKeyID)
	assert.Equal(t, "hunt*****", masked.Backends.WebDAV.Password)

	// originals untouched
	assert.Equal(t, "daemon-token-value", cfg.Daemon.Token)
	assert.Equal(t, "very-secret-key", cfg.Backends.S3.SecretAccessKey)
}

func TestBackendsConfig_EnabledCanonicalOrder(t *testing.T) {
	b := BackendsConfig{
		WebDAV: &WebDAVConfig{URL: "https://dav.example.com", Username: "u", Password: "p"},
		Weibo:  &WeiboConfig{Cookie: "c"},
		S3:     &S3Config{AccountID: "a", AccessKeyID: "k", SecretAccessKey: "s", Bucket: "b"},
	}

	assert.Equal(t, []string{BackendWeibo, BackendS3, BackendWebDAV}, b.Enabled())
	assert.True(t, b.Has(BackendWeibo))
	assert.False(t, b.Has(BackendSMMS))
}

func TestBackendsConfig_Defaults(t *testing.T) {
	w := &WeiboConfig{Cookie: "c"}
	assert.Equal(t, DefaultWeiboIntervalMs, w.IntervalMs())
	w.MinIntervalMs = 250
	assert.Equal(t, 250, w.IntervalMs())

	n := &NowcoderConfig{Cookie: "c"}
	limit, cooldown := n.BatchSettings()
	assert.Equal(t, DefaultNowcoderBatchLimit, limit)
	assert.Equal(t, DefaultNowcoderCooldownMs, cooldown)

	n.BatchLimit = 5
	n.BatchCooldownMs = 1000
	limit, cooldown = n.BatchSettings()
	assert.Equal(t, 5, limit)
	assert.Equal(t, 1000, cooldown)
}

func TestS3Config_ResolveEndpoint(t *testing.T) {
	s := &S3Config{AccountID: "abc123"}
	assert.Equal(t, "https://abc123.r2.cloudflarestorage.com", s.ResolveEndpoint())
	assert.Equal(t, "auto", s.ResolveRegion())

	s.Endpoint = "https://minio.local:9000"
	s.Region = "us-east-1"
	assert.Equal(t, "https://minio.local:9000", s.ResolveEndpoint())
	assert.Equal(t, "us-east-1", s.ResolveRegion())
}

func TestBackendsConfig_ValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name     string
		backends BackendsConfig
		wantErr  string
	}{
		{
			name:     "weibo without cookie",
			backends: BackendsConfig{Weibo: &WeiboConfig{}},
			wantErr:  "cookie is required",
		},
		{
			name:     "s3 without endpoint or account",
			backends: BackendsConfig{S3: &S3Config{AccessKeyID: "k", SecretAccessKey: "s", Bucket: "b"}},
			wantErr:  "endpoint or account_id",
		},
		{
			name:     "webdav with bad url",
			backends: BackendsConfig{WebDAV: &WebDAVConfig{URL: "dav.example.com", Username: "u", Password: "p"}},
			wantErr:  "webdav",
		},
		{
			name: "all valid",
			backends: BackendsConfig{
				Weibo:  &WeiboConfig{Cookie: "c"},
				Github: &GithubConfig{Token: "t", Owner: "o", Repo: "r"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backends.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
