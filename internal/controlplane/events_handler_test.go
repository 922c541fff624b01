package controlplane

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

func eventsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events" + query
}

func TestEventsHandler_StreamsLiveRun(t *testing.T) {
	block := make(chan struct{})
	svc := newTestServices(nil, &fakeAdapter{backend: "slow", block: block})
	srv := httptest.NewServer(SetupRoutes(svc, &RouteConfig{
		Auth: TokenAuthConfig{Token: "sekrit"},
	}))
	defer srv.Close()

	run := startRun(t, svc, tempImage(t), "slow")
	svc.Runs.Add(run)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Websocket clients cannot set headers, so the token rides the query.
	conn, _, err := websocket.Dial(ctx, eventsURL(srv, "?request_id="+run.ID+"&token=sekrit"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	close(block)

	var sawProgress, sawOutcome bool
	var result *uploader.AggregateResult
	for result == nil {
		var ev uploader.RunEvent
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		switch ev.Type {
		case uploader.RunEventProgress:
			sawProgress = true
		case uploader.RunEventOutcome:
			sawOutcome = true
		case uploader.RunEventDone:
			result = ev.Result
		}
	}

	assert.True(t, sawProgress)
	assert.True(t, sawOutcome)
	assert.Equal(t, uploader.AllSucceeded, result.Overall)
	assert.Equal(t, "slow", result.Primary)

	// After the done event the server closes the socket cleanly.
	var ev uploader.RunEvent
	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsHandler_SettledRunReplaysDone(t *testing.T) {
	svc := newTestServices(nil)
	srv := httptest.NewServer(SetupRoutes(svc, &RouteConfig{}))
	defer srv.Close()

	trackFailedRun(svc, "req-9", "/tmp/gone.png", "locked", uploader.KindAuthInvalid)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, eventsURL(srv, "?request_id=req-9"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var ev uploader.RunEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, uploader.RunEventDone, ev.Type)
	require.NotNil(t, ev.Result)
	assert.Equal(t, uploader.AllFailed, ev.Result.Overall)

	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsHandler_RejectsBadRequests(t *testing.T) {
	svc := newTestServices(nil)
	srv := httptest.NewServer(SetupRoutes(svc, &RouteConfig{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, eventsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, eventsURL(srv, "?request_id=ghost"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}
