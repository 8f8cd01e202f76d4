package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pilot-assistant/internal/display"
)

type Config struct {
	Enable bool
	Addr   string
}

// StatusFunc returns the JSON-serializable status document for /api/status.
// Supplied by the composition root so this package stays ignorant of the
// pipeline's types.
type StatusFunc func() any

// Server exposes the attitude stream: a websocket at /ws pushing one JSON
// frame per render tick and a polled status endpoint.
type Server struct {
	cfg    Config
	log    *logrus.Entry
	b      *Broadcaster
	status StatusFunc

	srv      *http.Server
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, b *Broadcaster, status StatusFunc, log *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:    cfg,
		log:    log.WithField("component", "web"),
		b:      b,
		status: status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The attitude stream is read-only telemetry on a local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("web: server is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutCtx)
	}()

	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("web server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("web server failed")
		}
	}()
	return nil
}

// wsFrame is the wire form of one attitude frame.
type wsFrame struct {
	Type    string  `json:"type"`
	Roll    float64 `json:"roll"`
	Pitch   float64 `json:"pitch"`
	Heading float64 `json:"heading"`

	BankExceeded  bool `json:"bankExceeded"`
	PitchExceeded bool `json:"pitchExceeded"`

	SpeedKt float64 `json:"speedKt"`
	GPSFix  bool    `json:"gpsFix"`

	Status string `json:"status,omitempty"`
}

func toWire(f display.Frame, status string) wsFrame {
	return wsFrame{
		Type:          "attitude",
		Roll:          f.Roll,
		Pitch:         f.Pitch,
		Heading:       f.Heading,
		BankExceeded:  f.BankExceeded,
		PitchExceeded: f.PitchExceeded,
		SpeedKt:       f.SpeedKt,
		GPSFix:        f.GPSFix,
		Status:        status,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, ch := s.b.Subscribe(4)
	defer s.b.Unsubscribe(id)

	// Drain client messages so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for f := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(toWire(f, s.b.Status())); err != nil {
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	var doc any
	if s.status != nil {
		doc = s.status()
	}
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.WithError(err).Debug("status encode failed")
	}
}
