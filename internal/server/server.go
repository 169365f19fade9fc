// Package server exposes the engine to external control surfaces over HTTP.
// It serves engine state and Prometheus metrics, accepts the manual commands
// (panic sell, buy now, stop), and streams the engine event feed over a
// websocket so a UI does not need to poll.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/antigravity-lab/antigravity/internal/config"
	"github.com/antigravity-lab/antigravity/internal/engine"
	"github.com/antigravity-lab/antigravity/internal/logger"
	"github.com/antigravity-lab/antigravity/internal/types"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 64
	shutdownGrace  = 5 * time.Second
	maxCommandBody = 1 << 16
)

// Server is the HTTP control surface. It fans the engine's event stream out
// to websocket subscribers; a slow subscriber is dropped rather than allowed
// to stall the feed.
type Server struct {
	engine *engine.Engine
	safety *engine.SafetyController
	logger *logger.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// New builds the server on the given listen address.
func New(addr string, eng *engine.Engine, log *logger.Logger) *Server {
	s := &Server{
		engine:  eng,
		safety:  engine.NewSafetyController(eng),
		logger:  log,
		clients: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/commands/panic-sell", s.handlePanicSell).Methods(http.MethodPost)
	router.HandleFunc("/commands/stop-loss-check", s.handleStopLossCheck).Methods(http.MethodPost)
	router.HandleFunc("/commands/buy-now", s.handleBuyNow).Methods(http.MethodPost)
	router.HandleFunc("/commands/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/strategy", s.handleUpdateStrategy).Methods(http.MethodPut)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Publish forwards an engine event to all websocket subscribers. The caller
// owns event ordering; Publish never reorders within a subscriber.
func (s *Server) Publish(event types.Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		s.logger.Error("failed to encode event", zap.Error(err))

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- payload:
		default:
			// Subscriber is not keeping up. Close its channel so the
			// writer goroutine tears the connection down.
			close(ch)
			delete(s.clients, ch)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type positionView struct {
		EntryPrice float64   `json:"entry_price"`
		Quantity   float64   `json:"quantity"`
		OpenedAt   time.Time `json:"opened_at"`
	}

	resp := struct {
		State    types.EngineState `json:"state"`
		Mode     types.EngineMode  `json:"mode"`
		Position *positionView     `json:"position,omitempty"`
		Balance  types.Balance     `json:"balance"`
	}{
		State:   s.engine.State(),
		Mode:    s.engine.Mode(),
		Balance: s.engine.Ledger().Balance(),
	}

	if pos, err := s.engine.Ledger().Current().Take(); err == nil {
		resp.Position = &positionView{
			EntryPrice: pos.EntryPrice,
			Quantity:   pos.Quantity,
			OpenedAt:   pos.OpenedAt,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))

		return
	}

	ch := make(chan []byte, clientBuffer)

	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[ch]; ok {
			close(ch)
			delete(s.clients, ch)
		}
		s.mu.Unlock()
		conn.Close()
	}()

	// Discard inbound frames but notice the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()

				return
			}
		}
	}()

	for payload := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// The safety interlocks go through the SafetyController façade rather than
// the engine directly, the same surface operator tooling is handed.
func (s *Server) handlePanicSell(w http.ResponseWriter, _ *http.Request) {
	s.runCommand(w, "panic_sell", s.safety.PanicSell)
}

func (s *Server) handleStopLossCheck(w http.ResponseWriter, _ *http.Request) {
	s.runCommand(w, "stop_loss_check", s.safety.StopLossCheck)
}

func (s *Server) handleBuyNow(w http.ResponseWriter, _ *http.Request) {
	s.runCommand(w, "buy_now", s.engine.BuyNow)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.runCommand(w, "stop", s.engine.Stop)
}

func (s *Server) runCommand(w http.ResponseWriter, name string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("command failed", zap.String("command", name), zap.Error(err))
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var strat config.Strategy

	body := http.MaxBytesReader(w, r.Body, maxCommandBody)
	if err := json.NewDecoder(body).Decode(&strat); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	}

	if err := s.engine.UpdateStrategy(strat); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "applied"})
}

// encodeEvent wraps an event in an envelope naming its kind, so subscribers
// can dispatch without duck typing on fields.
func encodeEvent(event types.Event) ([]byte, error) {
	var kind string

	switch event.(type) {
	case types.EntryEvent, *types.EntryEvent:
		kind = "entry"
	case types.ExitEvent, *types.ExitEvent:
		kind = "exit"
	case types.StatusEvent, *types.StatusEvent:
		kind = "status"
	case types.ErrorEvent, *types.ErrorEvent:
		kind = "error"
	default:
		kind = "unknown"
	}

	return json.Marshal(struct {
		Kind  string      `json:"kind"`
		Event types.Event `json:"event"`
	}{Kind: kind, Event: event})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
