package hosts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imroc/req/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

func TestParseWeiboResponse_Success(t *testing.T) {
	body := `<root><pid>006x1234gy1abc</pid><width>800</width><height>600</height><size>12345</size></root>`

	res, err := parseWeiboResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "006x1234gy1abc", res.PID)
	assert.Equal(t, WeiboImageURL("006x1234gy1abc"), res.URL)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 600, res.Height)
	assert.Equal(t, int64(12345), res.Size)
}

func TestParseWeiboResponse_AuthExpired(t *testing.T) {
	_, err := parseWeiboResponse(`<ret><data>100006</data></ret>`)
	requireKind(t, err, uploader.KindAuthExpired)
}

func TestParseWeiboResponse_NoPID(t *testing.T) {
	_, err := parseWeiboResponse(`<ret><data>ok</data></ret>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pid")
}

func TestXMLTagValue(t *testing.T) {
	cases := []struct {
		name string
		body string
		tag  string
		want string
	}{
		{"present", "<a><pid>xyz</pid></a>", "pid", "xyz"},
		{"absent", "<a><pid>xyz</pid></a>", "width", ""},
		{"unclosed", "<a><pid>xyz</a>", "pid", ""},
		{"empty", "<pid></pid>", "pid", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, xmlTagValue(tc.body, tc.tag))
		})
	}
}

func TestWeiboImageURL(t *testing.T) {
	assert.Equal(t, "https://tvax1.sinaimg.cn/large/abc.jpg", WeiboImageURL("abc"))
}

func TestWeiboHost_Upload(t *testing.T) {
	fileData := []byte("raw image bytes")
	var gotCookie, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotCookie = r.Header.Get("Cookie")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("<root><pid>p42</pid><width>1</width></root>"))
	}))
	defer srv.Close()

	bus := remote.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	host := &weiboHost{client: req.C(), bus: bus, uploadURL: srv.URL}
	path := writeTempFile(t, "pic.jpg", fileData)

	out, err := host.upload(context.Background(), remote.Params{
		ParamFilePath:         path,
		ParamCookie:           "SUB=abc",
		remote.ParamAttemptID: "att-1",
	})
	require.NoError(t, err)

	res, ok := out.(*weiboUploadResult)
	require.True(t, ok)
	assert.Equal(t, "p42", res.PID)
	assert.Equal(t, WeiboImageURL("p42"), res.URL)

	assert.Equal(t, "SUB=abc", gotCookie)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, fileData, gotBody)

	ev := <-events
	assert.Equal(t, "att-1", ev.AttemptID)
	assert.Equal(t, uint64(len(fileData)), ev.Done)
}

func TestWeiboHost_Upload_MissingCookie(t *testing.T) {
	host := newWeiboHost(req.C(), nil)
	path := writeTempFile(t, "pic.jpg", []byte("x"))

	_, err := host.upload(context.Background(), remote.Params{ParamFilePath: path})
	requireKind(t, err, uploader.KindConfigMissing)
}
