// Package status serves a small read-only HTTP surface for operators.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/HsiangNianian/uiabridge/internal/bridge"
	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
	"github.com/HsiangNianian/uiabridge/internal/store"
	"github.com/HsiangNianian/uiabridge/internal/ws"
)

const (
	defaultMessageLimit = 50
	snapshotTimeout     = 2 * time.Second
	shutdownTimeout     = 5 * time.Second
)

type Connection interface {
	State() ws.State
	URL() string
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (bridge.Snapshot, error)
}

type Report struct {
	Controller struct {
		URL   string   `json:"url"`
		State ws.State `json:"state"`
	} `json:"controller"`
	Monitored      []host.TabID `json:"monitored"`
	JournalDropped uint64       `json:"journalDropped"`
}

type Server struct {
	log     logr.Logger
	conn    Connection
	bridge  Snapshotter
	journal store.Store
	dropped func() uint64
}

// New builds the status surface. journal and dropped may be nil.
func New(log logr.Logger, conn Connection, b Snapshotter, journal store.Store, dropped func() uint64) *Server {
	return &Server{log: log, conn: conn, bridge: b, journal: journal, dropped: dropped}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/messages", s.handleMessages)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.bridge.Snapshot(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("bridge unavailable: %v", err), http.StatusServiceUnavailable)
		return
	}

	var report Report
	report.Controller.URL = s.conn.URL()
	report.Controller.State = s.conn.State()
	report.Monitored = snap.Monitored
	if report.Monitored == nil {
		report.Monitored = []host.TabID{}
	}
	if s.dropped != nil {
		report.JournalDropped = s.dropped()
	}
	s.writeJSON(w, report)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	kind := protocol.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		http.Error(w, "kind must be one of command, event, reply or unknown", http.StatusBadRequest)
		return
	}

	// A filtered view scans the whole journal, then keeps the newest matches.
	fetch := limit
	if kind != "" {
		fetch = 0
	}
	entries, err := s.journal.Recent(r.Context(), fetch)
	if err != nil {
		s.log.Error(err, "read journal failed")
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if kind != "" {
		entries = byKind(entries, kind, limit)
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	s.writeJSON(w, entries)
}

func byKind(entries []store.Entry, kind protocol.Kind, limit int) []store.Entry {
	var out []store.Entry
	for _, e := range entries {
		if e.Message.Kind() != kind {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.V(1).Info("write status response failed", "error", err.Error())
	}
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("status listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}
