package httpproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/proxy"
	"github.com/google/ouli/internal/record"
	"github.com/google/ouli/internal/redact"
	"github.com/google/ouli/internal/replay"
)

func TestUpstreamForwardsRequestAndCapturesResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/echo", r.URL.Path)
		assert.Equal(t, "hello", r.URL.Query().Get("msg"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}))
	defer backend.Close()

	u, err := url.Parse(backend.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	upstream := NewUpstream(config.EndpointConfig{TargetHost: u.Hostname(), TargetPort: int64(port), TargetType: "http"}, config.LimitsConfig{})

	req := fingerprint.Request{
		Method: "POST",
		Path:   "/echo",
		Query:  []fingerprint.Pair{{Key: "msg", Value: "hello"}},
		Body:   []byte("payload"),
	}
	resp, err := upstream.Forward(req)
	require.NoError(t, err)
	assert.EqualValues(t, 201, resp.Status)
	assert.Equal(t, []byte("payload"), resp.Body)

	found := false
	for _, h := range resp.Headers {
		if h.Key == "X-Reply" && h.Value == "yes" {
			found = true
		}
	}
	assert.True(t, found, "expected X-Reply header to be forwarded back")
}

func TestUpstreamForwardRejectsOversizedResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1024))
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())

	upstream := NewUpstream(config.EndpointConfig{TargetHost: u.Hostname(), TargetPort: int64(port), TargetType: "http"},
		config.LimitsConfig{MaxResponseSize: 16})

	_, err := upstream.Forward(fingerprint.Request{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.Equal(t, 413, ouerr.HTTPStatus(err))
}

func TestUpstreamAppliesResponseHeaderReplacements(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Trace", "secret-123-abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())

	upstream := NewUpstream(config.EndpointConfig{
		TargetHost: u.Hostname(),
		TargetPort: int64(port),
		TargetType: "http",
		ResponseHeaderReplacements: []config.HeaderReplacement{
			{Header: "X-Trace", Regex: `\d+`, Replace: "N"},
		},
	}, config.LimitsConfig{})

	resp, err := upstream.Forward(fingerprint.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)

	var got string
	for _, h := range resp.Headers {
		if h.Key == "X-Trace" {
			got = h.Value
		}
	}
	assert.Equal(t, "secret-N-abc", got)
}

func TestServerRecordModeRoundTrip(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("backend-response"))
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := config.EndpointConfig{TargetHost: u.Hostname(), TargetPort: int64(port), TargetType: "http"}

	dir := t.TempDir()
	engine := record.NewEngine(dir, nil)
	upstream := NewUpstream(cfg, config.LimitsConfig{})
	dispatcher := proxy.NewRecordDispatcher(engine, upstream)
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	srv.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backend-response", rec.Body.String())

	require.NoError(t, dispatcher.Finalize())
}

func TestServerReplayModeMissReturns404(t *testing.T) {
	cfg := config.EndpointConfig{TargetHost: "unused", TargetPort: 1}
	dir := t.TempDir()
	engine := replay.NewEngine(dir, replay.Lazy, nil)
	dispatcher := proxy.NewReplayDispatcher(engine)
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	srv.handle(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthCheckShortCircuits(t *testing.T) {
	cfg := config.EndpointConfig{Health: "/healthz"}
	dir := t.TempDir()
	engine := replay.NewEngine(dir, replay.Lazy, nil)
	dispatcher := proxy.NewReplayDispatcher(engine)
	redactor, _ := redact.NewRedact(nil)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRejectsOversizedRequestBody(t *testing.T) {
	cfg := config.EndpointConfig{Health: "/healthz"}
	dir := t.TempDir()
	engine := replay.NewEngine(dir, replay.Lazy, nil)
	dispatcher := proxy.NewReplayDispatcher(engine)
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{MaxRequestSize: 4})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/anything", strings.NewReader("way too much body"))
	srv.handle(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServerRejectsTooManyHeaders(t *testing.T) {
	cfg := config.EndpointConfig{Health: "/healthz"}
	dir := t.TempDir()
	engine := replay.NewEngine(dir, replay.Lazy, nil)
	dispatcher := proxy.NewReplayDispatcher(engine)
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{MaxHeaders: 2})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-One", "a")
	req.Header.Set("X-Two", "b")
	req.Header.Set("X-Three", "c")
	srv.handle(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNewServerSelectsWebsocketHandlerByMode(t *testing.T) {
	cfg := config.EndpointConfig{TargetHost: "unused", TargetPort: 1}
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	recordDispatcher := proxy.NewRecordDispatcher(record.NewEngine(t.TempDir(), nil), NewUpstream(cfg, config.LimitsConfig{}))
	recordSrv := NewServer(cfg, recordDispatcher, proxy.NewAdmission(10), redactor, nil, t.TempDir(), config.LimitsConfig{})
	assert.NotNil(t, recordSrv.wsRecord)
	assert.Nil(t, recordSrv.wsReplay)

	replayDispatcher := proxy.NewReplayDispatcher(replay.NewEngine(t.TempDir(), replay.Lazy, nil))
	replaySrv := NewServer(cfg, replayDispatcher, proxy.NewAdmission(10), redactor, nil, t.TempDir(), config.LimitsConfig{})
	assert.Nil(t, replaySrv.wsRecord)
	assert.NotNil(t, replaySrv.wsReplay)
}

func TestServerWebsocketUpgradeRecordsChunkLog(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(mt, append([]byte("echo:"), msg...))
		conn.ReadMessage()
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := config.EndpointConfig{TargetHost: u.Hostname(), TargetPort: int64(port), TargetType: "https"}

	dir := t.TempDir()
	dispatcher := proxy.NewRecordDispatcher(record.NewEngine(dir, nil), NewUpstream(cfg, config.LimitsConfig{}))
	redactor, err := redact.NewRedact(nil)
	require.NoError(t, err)

	srv := NewServer(cfg, dispatcher, proxy.NewAdmission(10), redactor, nil, dir, config.LimitsConfig{})
	proxySrv := httptest.NewServer(http.HandlerFunc(srv.handle))
	defer proxySrv.Close()

	wsURL := "ws" + strings.TrimPrefix(proxySrv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, reply, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))

	require.NoError(t, clientConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	clientConn.ReadMessage()
	clientConn.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var foundLog bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ws") {
			foundLog = true
		}
	}
	assert.True(t, foundLog, "expected a .ws chunk log to be written in %s", dir)
}
