// Package server exposes the runtime's event bus to external consumers over
// WebSocket, alongside the Prometheus metrics endpoint and a health check.
// It is a read-only facade: nothing submitted here can mutate an execution.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/slogger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	subscriberBuffer = 256
)

// Options configures the server.
type Options struct {
	Bus    *event.Bus
	Logger slogger.Logger

	// Gatherer serves /metrics. Defaults to the global Prometheus
	// registry.
	Gatherer prometheus.Gatherer
}

// Server streams execution events to WebSocket subscribers. Clients connect
// to /ws/events, optionally scoped with ?execution_id=, and receive each
// event as one JSON frame in the wire shape of event.Event.
type Server struct {
	bus      *event.Bus
	logger   slogger.Logger
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

// New creates a server over the given bus.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		bus:      opts.Bus,
		logger:   opts.Logger,
		gatherer: opts.Gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler for the server's endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	events, cancel := s.bus.Subscribe(executionID, subscriberBuffer)
	logger := s.logger.With("remote", conn.RemoteAddr().String(), "execution_id", executionID)
	logger.Info("event stream subscriber connected")

	// Reader: only pongs and close frames are expected from clients.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go s.writePump(conn, events, logger)
}

func (s *Server) writePump(conn *websocket.Conn, events <-chan *event.Event, logger slogger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		logger.Info("event stream subscriber disconnected")
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
