package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/ipfs"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	Banner             = "SkillBridge backend"
	DefaultMaxUploadMB = 512
	writeWait          = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionSource exposes the wallet session for the status route.
type SessionSource interface {
	Snapshot() models.Session
}

type BalanceSource interface {
	Snapshots() []models.BalanceSnapshot
}

type PendingSource interface {
	Pending() []models.PendingTransaction
}

type Options struct {
	Pinner      ipfs.Pinner
	Bus         *events.Bus
	Session     SessionSource
	Balances    BalanceSource
	Pending     PendingSource
	MaxUploadMB int
	Log         *logger.Logger
}

type Server struct {
	pinner   ipfs.Pinner
	bus      *events.Bus
	session  SessionSource
	balances BalanceSource
	pending  PendingSource
	maxBytes int64
	log      *logger.Logger

	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	router  *mux.Router
}

func NewServer(opts Options) *Server {
	s := &Server{
		pinner:   opts.Pinner,
		bus:      opts.Bus,
		session:  opts.Session,
		balances: opts.Balances,
		pending:  opts.Pending,
		maxBytes: int64(opts.MaxUploadMB) << 20,
		log:      opts.Log,
		clients:  make(map[*websocket.Conn]bool),
		router:   mux.NewRouter(),
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxUploadMB << 20
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.cors)
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/ipfs").Subrouter()
	api.HandleFunc("/course", s.handleCourse).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/quiz-result", s.handleQuizResult).Methods(http.MethodPost, http.MethodOptions)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	s.watchBus(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("API server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Request served", "id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).String())
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, Banner)
}

func (s *Server) status() map[string]interface{} {
	data := map[string]interface{}{}
	if s.session != nil {
		data["session"] = s.session.Snapshot()
	}
	balances := []models.BalanceSnapshot{}
	if s.balances != nil {
		balances = append(balances, s.balances.Snapshots()...)
	}
	data["balances"] = balances
	pending := []models.PendingTransaction{}
	if s.pending != nil {
		pending = append(pending, s.pending.Pending()...)
	}
	data["pending"] = pending
	return data
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCourse(w http.ResponseWriter, r *http.Request) {
	const failMsg = "Failed to upload course content to IPFS"
	if s.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, "IPFS pinning is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Warn("Bad course upload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var content ipfs.CourseContent
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &content.Metadata); err != nil {
		writeError(w, http.StatusBadRequest, "metadata must be a JSON document")
		return
	}
	var err error
	if content.Video, err = formFile(r, "videoFile"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if content.Thumbnail, err = formFile(r, "thumbnail"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cid, err := ipfs.PinCourse(r.Context(), s.pinner, content)
	if err != nil {
		s.log.Error("Upload course error", "error", err)
		writeError(w, http.StatusInternalServerError, failMsg)
		return
	}
	s.log.Info("Course content pinned", "cid", cid, "title", content.Metadata.Title)
	writeJSON(w, http.StatusOK, map[string]string{"metadataCid": cid})
}

func (s *Server) handleQuizResult(w http.ResponseWriter, r *http.Request) {
	if s.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, "IPFS pinning is not configured")
		return
	}
	var result json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cid, err := s.pinner.PinJSON(r.Context(), fmt.Sprintf("quiz_result_%d.json", time.Now().UnixMilli()), result)
	if err != nil {
		s.log.Error("Upload quiz result error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to upload quiz result to IPFS")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resultCid": cid})
}

// formFile reads an optional upload field. A missing field yields nil.
func formFile(r *http.Request, field string) (*ipfs.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &ipfs.File{Name: hdr.Filename, Data: data}, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.clients[conn] = true
	// Send initial state under the lock so no broadcast interleaves.
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(map[string]interface{}{
		"type": "initial",
		"data": s.status(),
	})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()
	if err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// watchBus subscribes to the event bus and relays events to websocket
// clients until ctx is cancelled.
func (s *Server) watchBus(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe()
	go s.relay(ctx, sub)
}

func (s *Server) relay(ctx context.Context, sub events.Subscriber) {
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(event)
		}
	}
}

func (s *Server) broadcast(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(event); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
