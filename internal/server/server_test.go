package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wongchs/brainwaved/internal/lifecycle"
	"github.com/wongchs/brainwaved/internal/session"
	"github.com/wongchs/brainwaved/internal/store"
)

// fakeConnection records refresh requests.
type fakeConnection struct {
	state     session.State
	refreshes atomic.Int32
}

func (f *fakeConnection) State() session.State { return f.state }
func (f *fakeConnection) RequestReconnectNow() error {
	f.refreshes.Add(1)
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.DB, *fakeConnection, *lifecycle.ForegroundGate) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConnection{state: session.StateConnected}
	gate := &lifecycle.ForegroundGate{}
	return New(db, NewHub(), gate, conn), db, conn, gate
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.SetStatus(session.StateRetrying, "retrying in 5s")

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got statusPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != "retrying" || got.Detail != "retrying in 5s" {
		t.Errorf("payload = %+v", got)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _, conn, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/api/connection/refresh", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if got := conn.refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestSeizureEndpoints(t *testing.T) {
	srv, db, _, _ := newTestServer(t)
	handler := srv.Handler()
	ctx := t.Context()

	profile, err := db.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id, err := db.SaveSeizure(ctx, store.SeizureRecord{
		UserID:    profile.ID,
		Timestamp: "2024-01-01T00:00:00Z",
		Samples:   []float64{1, 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, handler, http.MethodGet, "/api/seizures", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var records []store.SeizureRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("list = %+v", records)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/seizures/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/seizures/no-such-id", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodDelete, "/api/seizures/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodDelete, "/api/seizures/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestSeizureExportCSV(t *testing.T) {
	srv, db, _, _ := newTestServer(t)
	ctx := t.Context()

	profile, _ := db.GetProfile(ctx)
	lat := 3.5
	if _, err := db.SaveSeizure(ctx, store.SeizureRecord{
		UserID:    profile.ID,
		Timestamp: "2024-01-01T00:00:00Z",
		Samples:   []float64{1.5},
		Latitude:  &lat,
	}); err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/api/seizures/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 row: %q", len(lines), rr.Body.String())
	}
	if !strings.HasPrefix(lines[0], "id,timestamp") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "3.5") || !strings.Contains(lines[1], "2024-01-01T00:00:00Z") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestContactEndpoints(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	handler := srv.Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/contacts", store.EmergencyContact{Name: "Ali", Phone: "+601"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rr.Code, rr.Body)
	}
	var created store.EmergencyContact
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("contact id not assigned")
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/contacts", store.EmergencyContact{Name: "NoPhone"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("add without phone status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/contacts", nil)
	var contacts []store.EmergencyContact
	if err := json.Unmarshal(rr.Body.Bytes(), &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 {
		t.Fatalf("contacts = %+v", contacts)
	}

	rr = doJSON(t, handler, http.MethodDelete, "/api/contacts/"+created.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	handler := srv.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/profile", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var p store.Profile
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/profile", store.Profile{Name: "Wong", Phone: "+60"})
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/profile", nil)
	var updated store.Profile
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.ID != p.ID || updated.Name != "Wong" {
		t.Errorf("profile after put = %+v", updated)
	}
}

func TestWebSocketStatusAndCommands(t *testing.T) {
	srv, _, conn, gate := newTestServer(t)
	srv.SetStatus(session.StateConnected, "connected to NBLK-WAX9X")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	// The initial status event reflects the current state.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if ev.Type != "status" {
		t.Fatalf("initial event type = %q", ev.Type)
	}

	// Foreground command drives the gate.
	if err := client.WriteJSON(wsCommand{Type: "foreground"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return gate.Foregrounded() }, "gate foregrounded")

	if err := client.WriteJSON(wsCommand{Type: "background"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !gate.Foregrounded() }, "gate backgrounded")

	// Refresh command reaches the supervisor.
	if err := client.WriteJSON(wsCommand{Type: "refresh"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return conn.refreshes.Load() == 1 }, "refresh forwarded")

	// Broadcasts reach the client.
	srv.BroadcastTelemetry([]float64{1, 2, 3})
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("read telemetry event: %v", err)
	}
	if ev.Type != "telemetry" {
		t.Errorf("event type = %q, want telemetry", ev.Type)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
