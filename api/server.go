// Package api serves the companion core to the UI over a local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"companion-agent/agent"
	"companion-agent/db"
	"companion-agent/export"
	"companion-agent/llm"
	"companion-agent/utils"
)

// Server is the local HTTP API server.
type Server struct {
	address  string
	port     int
	svc      *agent.Service
	logger   *utils.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates a new API server.
func NewServer(address string, port int, svc *agent.Service, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Server{
		address: address,
		port:    port,
		svc:     svc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowLocalOrigin,
		},
		now: time.Now,
	}
}

// allowLocalOrigin accepts websocket handshakes from clients that send no
// Origin (native UIs, CLI tools), from the API's own host and from loopback
// pages. Any other web page is refused.
func allowLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PATCH /v1/settings", s.handleSettingsPatch)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("POST /v1/conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("PATCH /v1/conversations/{id}", s.handleConversationRename)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleMessageAppend)
	mux.HandleFunc("PATCH /v1/conversations/{id}/messages/{msgId}", s.handleMessageUpdate)
	mux.HandleFunc("DELETE /v1/conversations/{id}/messages/{msgId}", s.handleMessageDelete)
	mux.HandleFunc("POST /v1/conversations/{id}/send", s.handleSend)
	mux.HandleFunc("POST /v1/conversations/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleConversationExport)
	mux.HandleFunc("GET /v1/export", s.handleExportAll)

	mux.HandleFunc("PUT /v1/ui/current", s.handleSetCurrent)
	mux.HandleFunc("PUT /v1/ui/pin", s.handlePin)
	mux.HandleFunc("PUT /v1/ui/focus", s.handleFocus)

	mux.HandleFunc("GET /v1/memory", s.handleMemoryList)
	mux.HandleFunc("POST /v1/memory", s.handleMemoryAdd)
	mux.HandleFunc("PATCH /v1/memory/{id}", s.handleMemoryUpdate)
	mux.HandleFunc("DELETE /v1/memory/{id}", s.handleMemoryDelete)

	mux.HandleFunc("GET /v1/logs", s.handleLogsList)
	mux.HandleFunc("DELETE /v1/logs", s.handleLogsClear)

	mux.HandleFunc("POST /v1/api/test", s.handleAPITest)
	mux.HandleFunc("POST /v1/proactive/once", s.handleProactiveOnce)
	mux.HandleFunc("GET /v1/proactive/status", s.handleProactiveStatus)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// writeJSON encodes v as JSON to w.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write JSON response: %v", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	})
}

// writeError maps core errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed: %v", err)
	}
	s.errorResponse(w, code, err.Error())
}

func statusFor(err error) int {
	var perr *llm.ProviderError
	var aerr *db.AttachmentError
	switch {
	case errors.Is(err, db.ErrConversationNotFound),
		errors.Is(err, db.ErrMessageNotFound),
		errors.Is(err, db.ErrMemoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrMissingCredential), errors.As(err, &aerr):
		return http.StatusBadRequest
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v; an empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Store().ReadSettings()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	var patch db.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid settings patch")
		return
	}
	settings, err := s.svc.UpdateSettings(patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Store().ListConversations()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.svc.CreateConversation(req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Store().GetConversation(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationRename(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.svc.RenameConversation(r.PathValue("id"), req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteConversation(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendRequest struct {
	Role string `json:"role"`
	agent.SendRequest
}

func (s *Server) handleMessageAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.svc.AppendMessage(r.PathValue("id"), req.Role, req.SendRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.svc.UpdateMessage(r.PathValue("id"), r.PathValue("msgId"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteMessage(r.PathValue("id"), r.PathValue("msgId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req agent.SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.SendMessage(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.SummarizeToMemory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func exportOptions(r *http.Request) (export.Format, export.Options) {
	q := r.URL.Query()
	include := true
	if v := q.Get("timestamps"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			include = b
		}
	}
	return export.ParseFormat(q.Get("format")), export.Options{IncludeTimestamps: include}
}

func (s *Server) writeExport(w http.ResponseWriter, format export.Format, filename string, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write export: %v", err)
	}
}

func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Store().GetConversation(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	format, opts := exportOptions(r)
	data, err := export.Render(conv, format, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExport(w, format, export.Filename(conv.Title, format, s.now()), data)
}

func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Store().ListConversations()
	if err != nil {
		s.writeError(w, err)
		return
	}
	format, opts := exportOptions(r)
	data, err := export.RenderAll(list, format, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExport(w, format, export.AllFilename(format, s.now()), data)
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !s.decode(w, r, &req) {
		return
	}
	settings, err := s.svc.SetCurrentConversation(req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !s.decode(w, r, &req) {
		return
	}
	settings, err := s.svc.PinProactive(req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Focused bool `json:"focused"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.svc.SetFocused(req.Focused)
	s.writeJSON(w, http.StatusOK, map[string]bool{"focused": s.svc.Focused()})
}

type memoryRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Store().ListMemory()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.svc.AddMemory(req.Title, req.Content, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleMemoryUpdate(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.svc.UpdateMemory(r.PathValue("id"), req.Title, req.Content, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteMemory(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.svc.Store().ListLogs(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store().ClearLogs(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAPITest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		API json.RawMessage `json:"api"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.svc.TestAPI(r.Context(), req.API)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleProactiveOnce(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.ProactiveOnce(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProactiveStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Scheduler().Status())
}
