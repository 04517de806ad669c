package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/converter"
	"github.com/MikeSquared-Agency/corpusd/internal/processor"
	"github.com/MikeSquared-Agency/corpusd/internal/store"
	"github.com/MikeSquared-Agency/corpusd/internal/workspace"
)

// ConversationsPath is the URL prefix for single-file operations.
const ConversationsPath = "/language/conversations"

const maxBodyBytes = 10 << 20

// Scanner runs a full corpus scan.
type Scanner interface {
	Scan(ctx context.Context, trigger string) (*conversation.Corpus, error)
}

// Converter runs single conversions in either direction.
type Converter interface {
	ParseFile(ctx context.Context, path string) (json.RawMessage, error)
	Generate(ctx context.Context, payload any) (string, error)
}

// Snapshots exposes persisted scans.
type Snapshots interface {
	LatestSnapshot(ctx context.Context) (*store.SnapshotRow, error)
}

// Options wires the server's collaborators. Socket, Gatherer and
// Snapshots are optional. An empty AllowedOrigins list accepts every origin.
type Options struct {
	Port           int
	TLSCert        string
	TLSKey         string
	AllowedOrigins []string
	Scanner   Scanner
	Converter Converter
	Workspace *workspace.Workspace
	Snapshots Snapshots
	Socket    http.Handler
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type Server struct {
	router    *chi.Mux
	http      *http.Server
	tlsCert   string
	tlsKey    string
	scanner   Scanner
	converter Converter
	workspace *workspace.Workspace
	snapshots Snapshots
	logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost,
			http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	s := &Server{
		router:    router,
		tlsCert:   opts.TLSCert,
		tlsKey:    opts.TLSKey,
		scanner:   opts.Scanner,
		converter: opts.Converter,
		workspace: opts.Workspace,
		snapshots: opts.Snapshots,
		logger:    opts.Logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Get("/", s.conversationData)
	router.Post("/json2cml", s.jsonToCML)

	router.Route(ConversationsPath, func(r chi.Router) {
		r.Get("/*", s.getConversation)
		r.Head("/*", s.getConversation)
		r.Put("/*", s.putConversation)
		r.Delete("/*", s.deleteConversation)
	})

	if opts.Snapshots != nil {
		router.Get("/snapshots/latest", s.latestSnapshot)
	}
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Socket != nil {
		router.Handle("/ws", opts.Socket)
	}

	return s
}

// Start serves until Shutdown is called, over TLS when a certificate is configured.
func (s *Server) Start() error {
	var err error
	if s.tlsCert != "" && s.tlsKey != "" {
		s.logger.Info("API server starting", "addr", s.http.Addr, "tls", true)
		err = s.http.ListenAndServeTLS(s.tlsCert, s.tlsKey)
	} else {
		s.logger.Info("API server starting", "addr", s.http.Addr, "tls", false)
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// conversationData handles GET /: a full scan of the corpus root.
func (s *Server) conversationData(w http.ResponseWriter, r *http.Request) {
	corpus, err := s.scanner.Scan(r.Context(), processor.TriggerHTTP)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, corpus)
}

type contentResponse struct {
	Content string `json:"content"`
}

// jsonToCML handles POST /json2cml.
func (s *Server) jsonToCML(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	content, err := s.converter.Generate(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Content: content})
}

// fileName is the corpus-relative name addressed by the request.
func fileName(r *http.Request) string {
	name := chi.URLParam(r, "*")
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// getConversation handles GET and HEAD on a single source file.
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)
	path, err := s.workspace.Resolve(name)
	if err != nil {
		s.writeError(w, &converter.Error{Kind: converter.KindFileNotFound, Detail: name})
		return
	}

	raw, err := s.converter.ParseFile(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// putConversation generates source text from the body and saves it.
func (s *Server) putConversation(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)
	if _, err := s.workspace.Resolve(name); err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest(err.Error()))
		return
	}

	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	content, err := s.converter.Generate(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.workspace.Save(name, content); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("conversation saved", "filename", name)
	writeJSON(w, http.StatusOK, contentResponse{Content: content})
}

// deleteConversation removes a single source file.
func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)
	err := s.workspace.Delete(name)
	switch {
	case err == nil:
		s.logger.Info("conversation deleted", "filename", name)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, workspace.ErrNotFound), errors.Is(err, workspace.ErrOutsideRoot):
		w.WriteHeader(http.StatusNotFound)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	row, err := s.snapshots.LatestSnapshot(r.Context())
	if errors.Is(err, store.ErrNoSnapshot) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// readPayload reads a JSON request body. It writes a 400 and reports false
// when the body is not valid JSON.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest(fmt.Sprintf("read body: %v", err)))
		return nil, false
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, badRequest("body is not valid JSON"))
		return nil, false
	}
	return json.RawMessage(body), true
}

func badRequest(detail string) converter.Response {
	return converter.Response{
		Status:  http.StatusBadRequest,
		Error:   "BadRequest",
		Message: "The request could not be understood.",
		Detail:  detail,
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := converter.ResponseFor(err)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, resp.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
