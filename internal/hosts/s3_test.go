package hosts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

func TestS3PublicURL(t *testing.T) {
	assert.Equal(t,
		"https://img.example.com/imgs/p.png",
		s3PublicURL("https://acc.r2.cloudflarestorage.com", "https://img.example.com/", "pix", "imgs/p.png"))
	assert.Equal(t,
		"https://acc.r2.cloudflarestorage.com/pix/imgs/p.png",
		s3PublicURL("https://acc.r2.cloudflarestorage.com", "", "pix", "imgs/p.png"))
}

func s3TestParams(endpoint string) remote.Params {
	return remote.Params{
		ParamEndpoint:        endpoint,
		ParamAccessKeyID:     "AKID",
		ParamSecretAccessKey: "SECRET",
		ParamRegion:          "us-east-1",
		ParamBucket:          "pix",
		ParamPathStyle:       true,
	}
}

func TestS3Host_Upload(t *testing.T) {
	fileData := []byte("object bytes")
	var gotMethod, gotPath string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"deadbeef"`)
	}))
	defer srv.Close()

	host := newS3Host(nil)
	path := writeTempFile(t, "pic.png", fileData)

	params := s3TestParams(srv.URL)
	params[ParamFilePath] = path
	params[ParamKey] = "imgs/pic.png"

	out, err := host.upload(context.Background(), params)
	require.NoError(t, err)

	res, ok := out.(*s3UploadResult)
	require.True(t, ok)
	assert.Equal(t, "imgs/pic.png", res.Key)
	assert.Equal(t, "deadbeef", res.ETag)
	assert.Equal(t, srv.URL+"/pix/imgs/pic.png", res.URL)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/pix/imgs/pic.png", gotPath)
	assert.True(t, bytes.Contains(gotBody, fileData))
}

func TestS3Host_Upload_PublicDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"e"`)
	}))
	defer srv.Close()

	host := newS3Host(nil)
	path := writeTempFile(t, "pic.png", []byte("x"))

	params := s3TestParams(srv.URL)
	params[ParamFilePath] = path
	params[ParamKey] = "pic.png"
	params[ParamPublicDomain] = "https://img.example.com"

	out, err := host.upload(context.Background(), params)
	require.NoError(t, err)

	res := out.(*s3UploadResult)
	assert.Equal(t, "https://img.example.com/pic.png", res.URL)
}

func TestS3Host_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pix" {
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	host := newS3Host(nil)

	_, err := host.check(context.Background(), s3TestParams(srv.URL))
	require.NoError(t, err)

	bad := s3TestParams(srv.URL)
	bad[ParamBucket] = "other"
	_, err = host.check(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head bucket other")
}

func TestS3Host_MissingCredentials(t *testing.T) {
	host := newS3Host(nil)
	path := writeTempFile(t, "pic.png", []byte("x"))

	_, err := host.upload(context.Background(), remote.Params{
		ParamFilePath: path,
		ParamBucket:   "pix",
		ParamKey:      "k",
	})
	requireKind(t, err, uploader.KindConfigMissing)
}

func TestS3Adapter_ObjectKey(t *testing.T) {
	path := writeTempFile(t, "pic.png", []byte("stable content"))

	a := NewS3Adapter(&config.S3Config{Path: "/imgs/"}, nil)
	key, err := a.objectKey(path)
	require.NoError(t, err)
	assert.Regexp(t, `^imgs/[0-9a-f]{8}_pic\.png$`, key)

	a = NewS3Adapter(&config.S3Config{}, nil)
	key, err = a.objectKey(path)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{8}_pic\.png$`, key)
}
