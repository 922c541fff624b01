package hosts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imroc/req/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

func TestRewriteNowcoderURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"scheme upgrade",
			"http://uploadfiles.nowcoder.com/images/a.png",
			"https://uploadfiles.nowcoder.com/images/a.png",
		},
		{
			"compress stripped",
			"https://uploadfiles.nowcoder.com/compress/mw1000/images/a.png",
			"https://uploadfiles.nowcoder.com/images/a.png",
		},
		{
			"both",
			"http://uploadfiles.nowcoder.com/compress/mw1000/images/a.png",
			"https://uploadfiles.nowcoder.com/images/a.png",
		},
		{
			"trailing marker untouched",
			"https://uploadfiles.nowcoder.com/compress/mw1000",
			"https://uploadfiles.nowcoder.com/compress/mw1000",
		},
		{
			"plain https untouched",
			"https://uploadfiles.nowcoder.com/images/a.png",
			"https://uploadfiles.nowcoder.com/images/a.png",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rewriteNowcoderURL(tc.in))
		})
	}
}

func TestNowcoderHost_Upload(t *testing.T) {
	var gotCookie, gotType, gotStamp, gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotType = r.URL.Query().Get("type")
		gotStamp = r.URL.Query().Get("_")
		require.NoError(t, r.ParseMultipartForm(8<<20))
		if files := r.MultipartForm.File["file"]; len(files) == 1 {
			gotField = files[0].Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"msg":"","url":"http://uploadfiles.nowcoder.com/compress/mw1000/images/x.png"}`))
	}))
	defer srv.Close()

	bus := remote.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	host := &nowcoderHost{client: req.C(), bus: bus, uploadURL: srv.URL}
	fileData := []byte("gif bytes")
	path := writeTempFile(t, "x.gif", fileData)

	out, err := host.upload(context.Background(), remote.Params{
		ParamFilePath:         path,
		ParamCookie:           "t=abc",
		remote.ParamAttemptID: "att-n",
	})
	require.NoError(t, err)

	res, ok := out.(*nowcoderUploadResult)
	require.True(t, ok)
	assert.Equal(t, "https://uploadfiles.nowcoder.com/images/x.png", res.URL)
	assert.Equal(t, int64(len(fileData)), res.Size)

	assert.Equal(t, "t=abc", gotCookie)
	assert.Equal(t, "1", gotType)
	assert.NotEmpty(t, gotStamp)
	assert.Equal(t, "x.gif", gotField)

	ev := <-events
	assert.Equal(t, "att-n", ev.AttemptID)
	assert.Equal(t, uint64(len(fileData)), ev.Done)
	assert.Equal(t, uint64(len(fileData)), ev.Total)
}

func TestNowcoderHost_Upload_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":999,"msg":"not logged in"}`))
	}))
	defer srv.Close()

	host := &nowcoderHost{client: req.C(), uploadURL: srv.URL}
	path := writeTempFile(t, "x.png", []byte("png"))

	_, err := host.upload(context.Background(), remote.Params{
		ParamFilePath: path,
		ParamCookie:   "t=abc",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999")
	assert.Contains(t, err.Error(), "not logged in")
}

func TestNowcoderHost_Upload_RejectsUnknownExtension(t *testing.T) {
	host := newNowcoderHost(req.C(), nil)
	path := writeTempFile(t, "x.webp", []byte("webp"))

	_, err := host.upload(context.Background(), remote.Params{
		ParamFilePath: path,
		ParamCookie:   "t=abc",
	})
	requireKind(t, err, uploader.KindConfigMissing)
}
