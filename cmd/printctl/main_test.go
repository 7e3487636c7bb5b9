package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/print-station/internal/api"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/internal/settings"
)

const sampleNote = `{
  "number": "42",
  "company": {"name": "ACME"},
  "items": [{"qty": 2, "name": "X", "price": 10}],
  "total": 20
}`

func newTestAPI(t *testing.T) (string, *queue.Service) {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	q := queue.New(queue.WithLogger(quiet))
	t.Cleanup(q.Close)

	store, err := settings.Open("")
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(q, registry.Builtin(), store, api.WithLogger(quiet)).Handler())
	t.Cleanup(srv.Close)
	return srv.URL, q
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", server}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeNote(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "note.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestSubmit(t *testing.T) {
	server, q := newTestAPI(t)

	out, err := execute(t, server, "submit", writeNote(t, sampleNote))
	require.NoError(t, err)
	assert.Contains(t, out, "Queued note 42")

	pending := q.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "42", pending[0].NoteID)
	assert.Equal(t, "ACME", pending[0].Payload["company"].(map[string]interface{})["name"])
}

func TestSubmitOverridesNoteID(t *testing.T) {
	server, q := newTestAPI(t)

	_, err := execute(t, server, "submit", writeNote(t, sampleNote), "--note-id", "A-1")
	require.NoError(t, err)
	require.Len(t, q.ListPending(), 1)
	assert.Equal(t, "A-1", q.ListPending()[0].NoteID)
}

func TestSubmitRejectsInvalidNote(t *testing.T) {
	server, q := newTestAPI(t)

	_, err := execute(t, server, "submit", writeNote(t, `{"number":"1","items":[]}`))
	assert.Error(t, err)
	assert.Empty(t, q.ListPending())
}

func TestPendingJSON(t *testing.T) {
	server, q := newTestAPI(t)
	req := q.Submit(nil, "7")

	out, err := execute(t, server, "pending", "--json")
	require.NoError(t, err)

	var resp struct {
		Requests []queue.Request `json:"requests"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, req.ID, resp.Requests[0].ID)
}

func TestPendingEmpty(t *testing.T) {
	server, _ := newTestAPI(t)

	out, err := execute(t, server, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No print requests")
}

func TestPrintedAndFail(t *testing.T) {
	server, q := newTestAPI(t)
	a := q.Submit(nil, "1")
	b := q.Submit(nil, "2")

	_, err := execute(t, server, "printed", a.ID)
	require.NoError(t, err)
	_, err = execute(t, server, "fail", b.ID, "--reason", "paper out")
	require.NoError(t, err)

	got, err := q.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusError, got.Status)
	assert.Equal(t, "paper out", got.ErrorMessage)

	out, err := execute(t, server, "history")
	require.NoError(t, err)
	assert.Contains(t, out, a.ID)
	assert.Contains(t, out, "paper out")
}

func TestHistoryForNote(t *testing.T) {
	server, q := newTestAPI(t)
	first := q.Submit(nil, "42")
	require.NoError(t, q.MarkError(first.ID, "paper out"))
	other := q.Submit(nil, "7")
	require.NoError(t, q.MarkPrinted(other.ID))
	retry := q.Submit(nil, "42")
	require.NoError(t, q.MarkPrinted(retry.ID))

	out, err := execute(t, server, "history", "--note", "42", "--json")
	require.NoError(t, err)

	var resp struct {
		Requests []queue.Request `json:"requests"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Requests, 2)
	assert.Equal(t, first.ID, resp.Requests[0].ID)
	assert.Equal(t, retry.ID, resp.Requests[1].ID)
}

func TestPorts(t *testing.T) {
	server, _ := newTestAPI(t)

	out, err := execute(t, server, "ports", "--json")
	require.NoError(t, err)
	var resp struct {
		Ports []string `json:"ports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotNil(t, resp.Ports)
}

func TestPrintedUnknownRequest(t *testing.T) {
	server, _ := newTestAPI(t)

	_, err := execute(t, server, "printed", "nope")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestClaimAndRelease(t *testing.T) {
	server, q := newTestAPI(t)
	req := q.Submit(nil, "1")

	out, err := execute(t, server, "claim", req.ID, "--station", "front", "--json")
	require.NoError(t, err)
	var lease queue.Lease
	require.NoError(t, json.Unmarshal([]byte(out), &lease))
	assert.Equal(t, "front", lease.Station)

	_, err = execute(t, server, "claim", req.ID, "--station", "back")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)

	_, err = execute(t, server, "release", req.ID, "--station", "front", "--token", lease.Token)
	require.NoError(t, err)
	_, err = execute(t, server, "claim", req.ID, "--station", "back")
	assert.NoError(t, err)
}

func TestProfiles(t *testing.T) {
	server, _ := newTestAPI(t)

	out, err := execute(t, server, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "epson-tm-t20")
	assert.Contains(t, out, "generic-58")
}

func TestSetIP(t *testing.T) {
	server, _ := newTestAPI(t)

	out, err := execute(t, server, "set-ip", "192.168.0.50")
	require.NoError(t, err)
	assert.Contains(t, out, "192.168.0.50")
}

func TestWatch(t *testing.T) {
	server, q := newTestAPI(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(t, server, "watch", "--count", "2")
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool { return q.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)
	req := q.Submit(nil, "42")
	require.NoError(t, q.MarkError(req.ID, "no paper"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		lines := strings.Split(strings.TrimSpace(r.out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "submitted")
		assert.Contains(t, lines[1], "failed")
		assert.Contains(t, lines[1], `error="no paper"`)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not finish")
	}
}

func TestWSURL(t *testing.T) {
	u, err := newAPIClient("https://example.com/station/").wsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/station/ws", u)

	u, err = newAPIClient("http://localhost:8080").wsURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)
}
