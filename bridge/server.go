package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/netutil"
)

const maxBodyBytes = 1 << 20

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:     "127.0.0.1",
		Port:     8808,
		MaxConns: 64,
	}
}

// Server is the approval broker's HTTP surface: the rendezvous point the
// proposer and the remote UI reach over plain request/response calls.
// Neither side gets a push channel; both poll.
type Server struct {
	cfg     ServerConfig
	perms   *PermissionQueue
	tasks   *TaskQueue
	cookies *CookieStore
	audit   *JSONLAuditSink
	log     *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

func NewServer(cfg ServerConfig, perms *PermissionQueue, tasks *TaskQueue, cookies *CookieStore, audit *JSONLAuditSink, log *slog.Logger) (*Server, error) {
	if perms == nil {
		return nil, fmt.Errorf("nil permission queue")
	}
	if tasks == nil {
		return nil, fmt.Errorf("nil task queue")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8808
	}
	return &Server{
		cfg:     cfg,
		perms:   perms,
		tasks:   tasks,
		cookies: cookies,
		audit:   audit,
		log:     log,
	}, nil
}

// Handler builds the route table. Exposed so tests can drive the broker
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("POST /permission/request", s.handlePermissionRequest)
	mux.HandleFunc("GET /permission/pending", s.handlePermissionPending)
	mux.HandleFunc("POST /permission/result", s.handlePermissionResult)
	mux.HandleFunc("GET /permission/result/{task_id}", s.handlePermissionPoll)
	mux.HandleFunc("POST /permission/set_allow_all", s.handleSetAllowAll)
	mux.HandleFunc("GET /permission/allow_all_status", s.handleAllowAllStatus)

	mux.HandleFunc("POST /extension/register_task", s.handleRegisterTask)
	mux.HandleFunc("GET /extension/get_task", s.handleGetTask)
	mux.HandleFunc("GET /extension/tasks", s.handleListTasks)
	mux.HandleFunc("GET /extension/tasks/{task_id}", s.handleLookupTask)
	mux.HandleFunc("POST /extension/approval", s.handleApproval)
	mux.HandleFunc("POST /extension/cookies", s.handleSyncCookies)
	mux.HandleFunc("GET /extension/cookies/{site}", s.handleGetCookies)
	mux.HandleFunc("GET /extension/status", s.handleStatus)

	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	if s.cfg.MaxConns > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConns)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.Error("bridge_server_error", "error", err.Error())
			}
		}
	}()

	if s.log != nil {
		s.log.Info("bridge_listening", "addr", addr)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the evict loop.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		shutdownCtx := ctx
		var cancel context.CancelFunc
		if shutdownCtx == nil {
			shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && s.log != nil {
			s.log.Warn("bridge_shutdown_error", "error", err.Error())
		}
		s.httpServer = nil
		s.listener = nil
	}
	s.perms.Close()
	if s.audit != nil {
		_ = s.audit.Close()
	}
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// --- permission queue handlers ---

type permissionRequestBody struct {
	TaskID      string  `json:"task_id"`
	ActionType  string  `json:"action_type"`
	Description string  `json:"description"`
	X           *int    `json:"x"`
	Y           *int    `json:"y"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
}

func (s *Server) handlePermissionRequest(w http.ResponseWriter, r *http.Request) {
	var body permissionRequestBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	id, status, err := s.perms.Register(PermissionRequest{
		TaskID:      body.TaskID,
		ActionType:  body.ActionType,
		Description: body.Description,
		X:           body.X,
		Y:           body.Y,
		Text:        body.Text,
		Confidence:  body.Confidence,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.emitAudit(AuditEvent{
		Queue:      "permission",
		Event:      "registered",
		TaskID:     id,
		ActionType: strings.TrimSpace(body.ActionType),
		Detail:     status,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"task_id": id,
	})
}

func (s *Server) handlePermissionPending(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.perms.Pending())
}

type permissionResultBody struct {
	TaskID   string          `json:"task_id"`
	Decision string          `json:"decision"`
	EditData json.RawMessage `json:"edit_data"`
}

func (s *Server) handlePermissionResult(w http.ResponseWriter, r *http.Request) {
	var body permissionResultBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	decision := PermissionDecision(strings.ToLower(strings.TrimSpace(body.Decision)))
	err := s.perms.Decide(body.TaskID, decision, body.EditData)
	switch {
	case errors.Is(err, ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Errorf("task %s not found", body.TaskID))
		return
	case errors.Is(err, ErrAlreadyDecided):
		s.writeError(w, http.StatusConflict, fmt.Errorf("task %s already decided", body.TaskID))
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// allow_all is both a decision for this request and a broker-side
	// window activation covering every registration that follows.
	if decision == DecisionAllowAll {
		s.perms.Window().Set(30 * time.Minute)
		s.emitAudit(AuditEvent{Queue: "permission", Event: "allow_all_set", Detail: "30m"})
	}

	s.emitAudit(AuditEvent{
		Queue:    "permission",
		Event:    "decided",
		TaskID:   strings.TrimSpace(body.TaskID),
		Decision: string(decision),
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"task_id":  strings.TrimSpace(body.TaskID),
		"decision": string(decision),
	})
}

func (s *Server) handlePermissionPoll(w http.ResponseWriter, r *http.Request) {
	// Unknown ids are a decision value, not an HTTP error: pollers branch
	// on the decision field alone.
	s.writeJSON(w, http.StatusOK, s.perms.Decision(r.PathValue("task_id")))
}

type setAllowAllBody struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *Server) handleSetAllowAll(w http.ResponseWriter, r *http.Request) {
	var body setAllowAllBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	window := s.perms.Window()
	if body.DurationMinutes <= 0 {
		window.Revoke()
		s.emitAudit(AuditEvent{Queue: "permission", Event: "allow_all_revoked"})
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"duration_minutes": 0,
		})
		return
	}

	window.Set(time.Duration(body.DurationMinutes) * time.Minute)
	expiresAt, _ := window.ExpiresAt()
	s.emitAudit(AuditEvent{
		Queue:  "permission",
		Event:  "allow_all_set",
		Detail: fmt.Sprintf("%dm", body.DurationMinutes),
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"expires_at":       expiresAt.UTC().Format(time.RFC3339),
		"duration_minutes": body.DurationMinutes,
	})
}

func (s *Server) handleAllowAllStatus(w http.ResponseWriter, r *http.Request) {
	window := s.perms.Window()
	resp := map[string]any{
		"active":                 window.Active(),
		"time_remaining_seconds": int(window.Remaining().Seconds()),
	}
	if expiresAt, ok := window.ExpiresAt(); ok {
		resp["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- content-task queue handlers ---

type registerTaskBody struct {
	TaskType       string `json:"task_type"`
	ContentPreview string `json:"content_preview"`
	ActionLabel    string `json:"action_label"`
}

func (s *Server) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	var body registerTaskBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	rec, err := s.tasks.Register(r.Context(), body.TaskType, body.ContentPreview, body.ActionLabel)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.emitAudit(AuditEvent{
		Queue:      "task",
		Event:      "registered",
		TaskID:     rec.TaskID,
		ActionType: rec.TaskType,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task_id": rec.TaskID,
		"status":  string(rec.Status),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.tasks.Next(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		// The remote UI treats a null body as "nothing to overlay".
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tasks.Pending(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleLookupTask(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.tasks.Get(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"status": "not_found"})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type approvalBody struct {
	TaskID        string `json:"task_id"`
	Action        string `json:"action"`
	EditedContent string `json:"edited_content"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	act := TaskAction(strings.ToLower(strings.TrimSpace(body.Action)))
	err := s.tasks.Decide(r.Context(), body.TaskID, act, body.EditedContent)
	switch {
	case errors.Is(err, ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Errorf("task %s not found", body.TaskID))
		return
	case errors.Is(err, ErrAlreadyDecided):
		s.writeError(w, http.StatusConflict, fmt.Errorf("task %s already decided", body.TaskID))
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.emitAudit(AuditEvent{
		Queue:    "task",
		Event:    "decided",
		TaskID:   strings.TrimSpace(body.TaskID),
		Decision: string(act),
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task_id": strings.TrimSpace(body.TaskID),
		"action":  string(act),
		"status":  "processed",
	})
}

// --- cookies and status ---

type cookieSyncBody struct {
	Site    string          `json:"site"`
	Cookies json.RawMessage `json:"cookies"`
}

func (s *Server) handleSyncCookies(w http.ResponseWriter, r *http.Request) {
	if s.cookies == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("cookie store is not configured"))
		return
	}
	var body cookieSyncBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	count, err := s.cookies.Put(r.Context(), body.Site, body.Cookies)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"site":   strings.TrimSpace(body.Site),
		"count":  count,
		"status": "saved",
	})
}

func (s *Server) handleGetCookies(w http.ResponseWriter, r *http.Request) {
	if s.cookies == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("cookie store is not configured"))
		return
	}
	site := r.PathValue("site")
	cookies, err := s.cookies.Get(r.Context(), site)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"site":    site,
		"cookies": cookies,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "running",
		"service": "screenbridge",
	}
	if !s.startTime.IsZero() {
		resp["uptime_seconds"] = int(time.Since(s.startTime).Seconds())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	permPending, permDecided := s.perms.Counts()
	taskPending, taskTotal, err := s.tasks.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]any{
		"status": "running",
		"tasks": map[string]any{
			"pending": taskPending,
			"total":   taskTotal,
		},
		"permissions": map[string]any{
			"pending": permPending,
			"decided": permDecided,
		},
		"allow_all_active": s.perms.Window().Active(),
	}
	if s.cookies != nil {
		sites, err := s.cookies.Sites(r.Context())
		if err == nil {
			resp["cookie_sites"] = sites
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.log != nil {
		s.log.Warn("bridge_write_error", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]any{"error": err.Error()})
}

func (s *Server) emitAudit(e AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(e); err != nil && s.log != nil {
		s.log.Warn("bridge_audit_error", "error", err.Error())
	}
}
