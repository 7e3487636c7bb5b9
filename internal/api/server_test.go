package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/print-station/internal/printer"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/internal/settings"
)

var quiet = log.New(io.Discard, "", 0)

type fakeHistory struct {
	reqs []queue.Request
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]queue.Request, error) {
	if limit < len(h.reqs) {
		return h.reqs[:limit], nil
	}
	return h.reqs, nil
}

func (h *fakeHistory) ByNote(ctx context.Context, noteID string) ([]queue.Request, error) {
	var out []queue.Request
	for _, r := range h.reqs {
		if r.NoteID == noteID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *queue.Service) {
	t.Helper()

	q := queue.New(queue.WithLogger(quiet))
	t.Cleanup(q.Close)

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	s := NewServer(q, registry.Builtin(), store, append([]Option{WithLogger(quiet)}, opts...)...)
	gin.SetMode(gin.TestMode)
	return s, q
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s, q := newTestServer(t)
	q.Submit(nil, "1")

	w := do(t, s, "GET", "/health", "")
	require.Equal(t, 200, w.Code)

	var body struct {
		Status string      `json:"status"`
		Queue  queue.Stats `json:"queue"`
	}
	decode(t, w, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Queue.Pending)
}

func TestSubmitAndList(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "POST", "/print-requests", `{"note_id":"42","payload":{"total":10}}`)
	require.Equal(t, 201, w.Code)

	var created queue.Request
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "42", created.NoteID)
	assert.Equal(t, queue.StatusPending, created.Status)

	w = do(t, s, "GET", "/print-requests", "")
	require.Equal(t, 200, w.Code)
	var list struct {
		Requests []queue.Request `json:"requests"`
	}
	decode(t, w, &list)
	require.Len(t, list.Requests, 1)
	assert.Equal(t, created.ID, list.Requests[0].ID)

	w = do(t, s, "GET", "/print-requests/"+created.ID, "")
	assert.Equal(t, 200, w.Code)
}

func TestSubmitRequiresNoteID(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, 400, do(t, s, "POST", "/print-requests", `{"payload":{}}`).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/print-requests", `not json`).Code)
}

func TestUnknownRequest(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, 404, do(t, s, "GET", "/print-requests/nope", "").Code)
	assert.Equal(t, 404, do(t, s, "POST", "/print-requests/nope/printed", "").Code)
	assert.Equal(t, 404, do(t, s, "POST", "/print-requests/nope/claim", `{"station":"a"}`).Code)
}

func TestMarkPrintedAndError(t *testing.T) {
	s, q := newTestServer(t)
	a := q.Submit(nil, "1")
	b := q.Submit(nil, "2")

	assert.Equal(t, 200, do(t, s, "POST", "/print-requests/"+a.ID+"/printed", "").Code)
	assert.Equal(t, 200, do(t, s, "POST", "/print-requests/"+b.ID+"/error", `{"reason":"paper out"}`).Code)

	assert.Empty(t, q.ListPending())
	got, err := q.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusError, got.Status)
	assert.Equal(t, "paper out", got.ErrorMessage)

	// Terminal requests cannot be finished twice
	assert.Equal(t, 404, do(t, s, "POST", "/print-requests/"+a.ID+"/printed", "").Code)
}

func TestClaimAndRelease(t *testing.T) {
	s, q := newTestServer(t)
	req := q.Submit(nil, "1")

	assert.Equal(t, 400, do(t, s, "POST", "/print-requests/"+req.ID+"/claim", `{}`).Code)

	w := do(t, s, "POST", "/print-requests/"+req.ID+"/claim", `{"station":"front"}`)
	require.Equal(t, 200, w.Code)
	var lease queue.Lease
	decode(t, w, &lease)
	assert.Equal(t, "front", lease.Station)
	assert.NotEmpty(t, lease.Token)

	assert.Equal(t, 409, do(t, s, "POST", "/print-requests/"+req.ID+"/claim", `{"station":"back"}`).Code)
	assert.Equal(t, 409, do(t, s, "POST", "/print-requests/"+req.ID+"/release", `{"station":"back","token":"wrong"}`).Code)

	body := `{"station":"front","token":"` + lease.Token + `"}`
	assert.Equal(t, 200, do(t, s, "POST", "/print-requests/"+req.ID+"/release", body).Code)
	assert.Equal(t, 200, do(t, s, "POST", "/print-requests/"+req.ID+"/claim", `{"station":"back"}`).Code)
}

func TestRenewAndComplete(t *testing.T) {
	s, q := newTestServer(t)
	req := q.Submit(nil, "1")

	w := do(t, s, "POST", "/print-requests/"+req.ID+"/claim", `{"station":"front"}`)
	require.Equal(t, 200, w.Code)
	var lease queue.Lease
	decode(t, w, &lease)

	path := "/print-requests/" + req.ID
	assert.Equal(t, 400, do(t, s, "POST", path+"/renew", `{}`).Code)
	assert.Equal(t, 409, do(t, s, "POST", path+"/renew", `{"token":"stale"}`).Code)

	w = do(t, s, "POST", path+"/renew", `{"token":"`+lease.Token+`"}`)
	require.Equal(t, 200, w.Code)
	var renewed queue.Lease
	decode(t, w, &renewed)
	assert.Equal(t, "front", renewed.Station)
	assert.False(t, renewed.ExpiresAt.Before(lease.ExpiresAt))

	assert.Equal(t, 400, do(t, s, "POST", path+"/complete", `{"token":"`+lease.Token+`","status":"pending"}`).Code)
	assert.Equal(t, 409, do(t, s, "POST", path+"/complete", `{"token":"stale","status":"printed"}`).Code)

	w = do(t, s, "POST", path+"/complete", `{"token":"`+lease.Token+`","status":"error","reason":"jam"}`)
	require.Equal(t, 200, w.Code)

	got, err := q.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusError, got.Status)
	assert.Equal(t, "jam", got.ErrorMessage)
	assert.Equal(t, 404, do(t, s, "POST", path+"/complete", `{"token":"`+lease.Token+`","status":"printed"}`).Code)
}

func TestHistoryFromQueue(t *testing.T) {
	s, q := newTestServer(t)
	for i := 0; i < 3; i++ {
		req := q.Submit(nil, strconv.Itoa(i))
		require.NoError(t, q.MarkPrinted(req.ID))
	}

	w := do(t, s, "GET", "/history?limit=2", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Requests []queue.Request `json:"requests"`
	}
	decode(t, w, &body)
	require.Len(t, body.Requests, 2)
	assert.Equal(t, "2", body.Requests[0].NoteID)
	assert.Equal(t, "1", body.Requests[1].NoteID)

	assert.Equal(t, 400, do(t, s, "GET", "/history?limit=abc", "").Code)
}

func TestHistoryFromStore(t *testing.T) {
	h := &fakeHistory{reqs: []queue.Request{{ID: "x", NoteID: "9", Status: queue.StatusPrinted}}}
	s, _ := newTestServer(t, WithHistory(h))

	w := do(t, s, "GET", "/history", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Requests []queue.Request `json:"requests"`
	}
	decode(t, w, &body)
	require.Len(t, body.Requests, 1)
	assert.Equal(t, "x", body.Requests[0].ID)
}

func TestHistoryByNote(t *testing.T) {
	s, q := newTestServer(t)
	first := q.Submit(nil, "42")
	require.NoError(t, q.MarkError(first.ID, "paper out"))
	other := q.Submit(nil, "7")
	require.NoError(t, q.MarkPrinted(other.ID))
	retry := q.Submit(nil, "42")
	require.NoError(t, q.MarkPrinted(retry.ID))

	w := do(t, s, "GET", "/history?note_id=42", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Requests []queue.Request `json:"requests"`
	}
	decode(t, w, &body)
	require.Len(t, body.Requests, 2)
	assert.Equal(t, first.ID, body.Requests[0].ID)
	assert.Equal(t, retry.ID, body.Requests[1].ID)
}

func TestHistoryByNoteFromStore(t *testing.T) {
	h := &fakeHistory{reqs: []queue.Request{
		{ID: "x", NoteID: "9", Status: queue.StatusPrinted},
		{ID: "y", NoteID: "10", Status: queue.StatusError},
	}}
	s, _ := newTestServer(t, WithHistory(h))

	w := do(t, s, "GET", "/history?note_id=10", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Requests []queue.Request `json:"requests"`
	}
	decode(t, w, &body)
	require.Len(t, body.Requests, 1)
	assert.Equal(t, "y", body.Requests[0].ID)

	w = do(t, s, "GET", "/history?note_id=nope", "")
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"requests":[]}`, w.Body.String())
}

func TestSerialPorts(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "GET", "/serial-ports", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Ports []string `json:"ports"`
	}
	decode(t, w, &body)
	assert.NotNil(t, body.Ports)
}

func TestProfiles(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "GET", "/profiles", "")
	require.Equal(t, 200, w.Code)
	var body struct {
		Default   string             `json:"default"`
		Profiles  []registry.Profile `json:"profiles"`
		Codepages []string           `json:"codepages"`
	}
	decode(t, w, &body)
	assert.Equal(t, "epson-tm-t20", body.Default)
	assert.NotEmpty(t, body.Profiles)
	assert.Contains(t, body.Codepages, "cp437")
	assert.Equal(t, printer.Codepages(), body.Codepages)

	assert.Equal(t, 200, do(t, s, "GET", "/profiles/elgin-i9", "").Code)
	assert.Equal(t, 404, do(t, s, "GET", "/profiles/unknown", "").Code)
}

func TestNetworkPrinterIP(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, 400, do(t, s, "PUT", "/settings/network-printer-ip", `{}`).Code)
	assert.Equal(t, 400, do(t, s, "PUT", "/settings/network-printer-ip", `{"ip":"   "}`).Code)

	w := do(t, s, "PUT", "/settings/network-printer-ip", `{"ip":" 192.168.0.50 "}`)
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"ip":"192.168.0.50"}`, w.Body.String())

	w = do(t, s, "GET", "/settings/network-printer-ip", "")
	require.Equal(t, 200, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "192.168.0.50", body["ip"])
}

func TestStations(t *testing.T) {
	pool := printer.NewPool()
	local := printer.NewLocalAdapter(registry.Builtin())
	require.NoError(t, local.Connect(context.Background(), printer.Target{ProfileID: "epson-tm-t20"}))
	pool.Add("counter", local)

	s, _ := newTestServer(t, WithPool(pool))
	w := do(t, s, "GET", "/stations", "")
	require.Equal(t, 200, w.Code)

	var body struct {
		Stations []StationStatus `json:"stations"`
	}
	decode(t, w, &body)
	require.Len(t, body.Stations, 1)
	assert.Equal(t, "counter", body.Stations[0].Name)
	assert.Equal(t, printer.TransportLocal, body.Stations[0].Transport)
	assert.True(t, body.Stations[0].Connected)
	assert.True(t, body.Stations[0].Drawer)
}

func TestProxyPrint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s, _ := newTestServer(t, WithProxyPolicy(printer.ProxyPolicy{Ports: []int{port}}))
	body := `{"host":"127.0.0.1","port":` + strconv.Itoa(port) + `,"data":"G0BIaQ=="}`

	w := do(t, s, "POST", "/proxy/print", body)
	require.Equal(t, 200, w.Code)
	var resp printer.ProxyResponse
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 4, resp.BytesWritten)

	select {
	case data := <-received:
		assert.Equal(t, []byte("\x1b@Hi"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not receive data")
	}
}

func TestProxyPrintRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, 400, do(t, s, "POST", "/proxy/print", `{"host":"127.0.0.1","data":"%%%"}`).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/proxy/print", `{"data":"YWJj"}`).Code)
}

func TestProxyPrintPolicy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
		accepted <- struct{}{}
	}()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	// Only the raw printing port is open by default
	s, _ := newTestServer(t)
	w := do(t, s, "POST", "/proxy/print", `{"host":"127.0.0.1","port":`+port+`,"data":"YWJj"}`)
	require.Equal(t, 400, w.Code)
	var resp printer.ProxyResponse
	decode(t, w, &resp)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "port is not allowed")

	s, _ = newTestServer(t, WithProxyPolicy(printer.ProxyPolicy{Ports: []int{9100}, Hosts: []string{"192.168.0.50"}}))
	w = do(t, s, "POST", "/proxy/print", `{"host":"127.0.0.1","data":"YWJj"}`)
	require.Equal(t, 400, w.Code)
	decode(t, w, &resp)
	assert.Contains(t, resp.Error, "host is not allowed")

	select {
	case <-accepted:
		t.Fatal("rejected request reached the socket")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProxyPrintUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s, _ := newTestServer(t, WithDialTimeout(200*time.Millisecond),
		WithProxyPolicy(printer.ProxyPolicy{Ports: []int{port}}))
	w := do(t, s, "POST", "/proxy/print", `{"host":"127.0.0.1","port":`+strconv.Itoa(port)+`,"data":"YWJj"}`)
	require.Equal(t, 502, w.Code)

	var resp printer.ProxyResponse
	decode(t, w, &resp)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "OPTIONS", "/print-requests", "")
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s, q := newTestServer(t)
	conn := dialWS(t, s)

	require.Eventually(t, func() bool { return q.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	req := q.Submit(nil, "42")
	msg := readMessage(t, conn)
	assert.Equal(t, "submitted", msg.Event)
	assert.Equal(t, req.ID, msg.ID)

	var ev queue.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "42", ev.Request.NoteID)

	require.NoError(t, q.MarkPrinted(req.ID))
	assert.Equal(t, "printed", readMessage(t, conn).Event)
}

func TestWebSocketSubmit(t *testing.T) {
	s, q := newTestServer(t)
	conn := dialWS(t, s)

	require.Eventually(t, func() bool { return q.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	data, err := json.Marshal(map[string]interface{}{"note_id": "7"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "submit", Data: data, ID: "c1"}))

	// The broadcast and the reply may arrive in either order
	seen := map[string]WSMessage{}
	for len(seen) < 2 {
		msg := readMessage(t, conn)
		seen[msg.Event] = msg
	}
	require.Contains(t, seen, "submit_response")
	require.Contains(t, seen, "submitted")
	assert.Equal(t, "c1", seen["submit_response"].ID)

	var created queue.Request
	require.NoError(t, json.Unmarshal(seen["submit_response"].Data, &created))
	assert.Equal(t, "7", created.NoteID)
	assert.Len(t, q.ListPending(), 1)
}

func TestWebSocketDisconnectUnsubscribes(t *testing.T) {
	s, q := newTestServer(t)
	conn := dialWS(t, s)

	require.Eventually(t, func() bool { return q.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return q.Stats().Subscribers == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

