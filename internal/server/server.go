// Package server is the UI boundary: an HTTP API plus a WebSocket stream of
// connection status, telemetry and seizure events. The UI client drives the
// foreground gate and manual reconnects back over the same socket.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wongchs/brainwaved/internal/lifecycle"
	"github.com/wongchs/brainwaved/internal/session"
	"github.com/wongchs/brainwaved/internal/store"
)

// Connection is the slice of the supervisor the server drives.
type Connection interface {
	State() session.State
	RequestReconnectNow() error
}

// Server serves the REST API and the WebSocket stream.
type Server struct {
	db   *store.DB
	hub  *Hub
	gate *lifecycle.ForegroundGate
	conn Connection

	upgrader websocket.Upgrader

	mu         sync.Mutex
	lastState  session.State
	lastDetail string
}

// New builds a server. conn may be nil in tools that only read the store.
func New(db *store.DB, hub *Hub, gate *lifecycle.ForegroundGate, conn Connection) *Server {
	return &Server{
		db:   db,
		hub:  hub,
		gate: gate,
		conn: conn,
		upgrader: websocket.Upgrader{
			// The UI client is a local app; same-origin policy does not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		lastState:  session.StateIdle,
		lastDetail: "idle",
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/connection/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/seizures", s.handleListSeizures)
	mux.HandleFunc("GET /api/seizures/export", s.handleExportSeizures)
	mux.HandleFunc("GET /api/seizures/{id}", s.handleGetSeizure)
	mux.HandleFunc("DELETE /api/seizures/{id}", s.handleDeleteSeizure)
	mux.HandleFunc("GET /api/contacts", s.handleListContacts)
	mux.HandleFunc("POST /api/contacts", s.handleAddContact)
	mux.HandleFunc("DELETE /api/contacts/{id}", s.handleDeleteContact)
	mux.HandleFunc("GET /api/profile", s.handleGetProfile)
	mux.HandleFunc("PUT /api/profile", s.handlePutProfile)
	return mux
}

// SetStatus records and broadcasts a connection state change. Wired as the
// supervisor's StateListener.
func (s *Server) SetStatus(state session.State, detail string) {
	s.mu.Lock()
	s.lastState = state
	s.lastDetail = detail
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: "status", Payload: statusPayload{
		State:  state.String(),
		Detail: detail,
	}})
}

// BroadcastTelemetry pushes one EEG sample batch to the UI.
func (s *Server) BroadcastTelemetry(samples []float64) {
	s.hub.Broadcast(Event{Type: "telemetry", Payload: map[string]any{"data": samples}})
}

// BroadcastSeizure pushes a stored seizure record to the UI.
func (s *Server) BroadcastSeizure(rec store.SeizureRecord) {
	s.hub.Broadcast(Event{Type: "seizure", Payload: rec})
}

// BroadcastNotification mirrors a local notification to connected clients.
func (s *Server) BroadcastNotification(kind, title, body, deepLinkID string) {
	s.hub.Broadcast(Event{Type: "notification", Payload: map[string]string{
		"kind":       kind,
		"title":      title,
		"body":       body,
		"deepLinkId": deepLinkID,
	}})
}

type statusPayload struct {
	State  string `json:"state"`
	Detail string `json:"detail"`
}

// wsCommand is what the UI sends back over the socket.
type wsCommand struct {
	Type string `json:"type"` // "foreground", "background", "refresh"
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[WS] upgrade failed", "error", err)
		return
	}
	s.hub.Add(conn)
	defer s.hub.Remove(conn)

	// New clients immediately learn the current state.
	s.mu.Lock()
	initial := statusPayload{State: s.lastState.String(), Detail: s.lastDetail}
	s.mu.Unlock()
	if err := s.hub.Send(conn, Event{Type: "status", Payload: initial}); err != nil {
		return
	}

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "foreground":
			s.gate.EnterForeground()
		case "background":
			s.gate.ExitForeground()
		case "refresh":
			if s.conn != nil {
				if err := s.conn.RequestReconnectNow(); err != nil {
					slog.Warn("[WS] refresh rejected", "error", err)
				}
			}
		default:
			slog.Debug("[WS] unknown command", "type", cmd.Type)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	payload := statusPayload{State: s.lastState.String(), Detail: s.lastDetail}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.conn == nil {
		http.Error(w, "no connection supervisor", http.StatusServiceUnavailable)
		return
	}
	if err := s.conn.RequestReconnectNow(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.conn.State().String()})
}

func (s *Server) userID(ctx context.Context) (string, error) {
	profile, err := s.db.GetProfile(ctx)
	if err != nil {
		return "", err
	}
	return profile.ID, nil
}

func (s *Server) handleListSeizures(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	records, err := s.db.ListSeizures(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.SeizureRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSeizure(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetSeizure(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSeizure(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteSeizure(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSeizures(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	records, err := s.db.ListSeizures(r.Context(), userID, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="seizure_history.csv"`)
	if err := WriteSeizureCSV(w, records); err != nil {
		slog.Warn("[HTTP] csv export aborted", "error", err)
	}
}

// WriteSeizureCSV renders records as CSV. Shared with the export
// subcommand.
func WriteSeizureCSV(w io.Writer, records []store.SeizureRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "latitude", "longitude", "address", "samples"}); err != nil {
		return err
	}
	for _, rec := range records {
		samples, err := json.Marshal(rec.Samples)
		if err != nil {
			return err
		}
		row := []string{
			rec.ID,
			rec.Timestamp,
			floatField(rec.Latitude),
			floatField(rec.Longitude),
			rec.Address,
			string(samples),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func floatField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	contacts, err := s.db.ListContacts(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if contacts == nil {
		contacts = []store.EmergencyContact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var c store.EmergencyContact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if c.Name == "" || c.Phone == "" {
		http.Error(w, "name and phoneNumber are required", http.StatusBadRequest)
		return
	}
	userID, err := s.userID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	id, err := s.db.AddContact(r.Context(), userID, c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c.ID = id
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteContact(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.db.GetProfile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	current, err := s.db.GetProfile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var p store.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	p.ID = current.ID
	if err := s.db.SaveProfile(r.Context(), p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HTTP] response encode failed", "error", err)
	}
}
