package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/hive/internal/app"
	"github.com/bobmcallan/hive/internal/common"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app          *app.App
	server       *http.Server
	hub          *EventHub
	unsubscribe  func()
	logger       *common.Logger
	shutdownChan chan struct{}
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer creates the local view server. /ws clients get the current
// snapshot, then every bus event.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		hub:    NewEventHub(a.Logger, a.Snapshot),
		logger: a.Logger,
	}
	go s.hub.Run()
	s.unsubscribe = a.Bus.Subscribe(s.hub.Broadcast)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger)

	host := a.Config.Server.Host
	port := a.Config.Server.Port

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub returns the event hub serving /ws.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting view server")
	return s.server.ListenAndServe()
}

// Shutdown detaches from the bus, stops the hub and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}
