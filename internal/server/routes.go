package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/hive/internal/app"
	"github.com/bobmcallan/hive/internal/clients/hive"
	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/services/connection"
)

// registerRoutes sets up all view API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// State projections
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/valuation", s.handleValuation)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/wallets/", s.routeWallets) // handles {name}/trades, {name}/refresh

	// Commands
	mux.HandleFunc("/api/connection", s.handleConnection)
	mux.HandleFunc("/api/prices/refresh", s.handlePricesRefresh)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/sync", s.handleSync)

	// Event stream
	mux.HandleFunc("/ws", s.handleEventsWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"connection": string(s.app.Connection.State()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.Snapshot())
}

// handleSignals handles GET /api/signals[?page=N]. A page parameter moves
// the shared page cursor; without one the current page is returned.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if r.URL.Query().Get("page") == "" {
		s.writeJSON(w, r, http.StatusOK, s.app.Signals.View(-1))
		return
	}
	page, ok := QueryInt(r, "page", 0)
	if !ok {
		WriteError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.SetSignalPage(page))
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.Ledger.Valuation())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.Status.Snapshot())
}

// routeWallets dispatches /api/wallets/{name}/* to the appropriate handler.
func (s *Server) routeWallets(w http.ResponseWriter, r *http.Request) {
	name, action, ok := walletRoute(r.URL.Path)
	if !ok {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	switch action {
	case "trades":
		s.handleWalletTrades(w, r, name)
	case "refresh":
		s.handleWalletRefresh(w, r, name)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleWalletTrades handles GET (resolved count) and POST (request the
// authoritative trade list) on /api/wallets/{name}/trades.
func (s *Server) handleWalletTrades(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost {
		if err := s.app.FetchTradeHistory(name); err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "requested", "wallet_name": name})
		return
	}

	count, authoritative := s.app.TradesCount(name)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"wallet_name":   name,
		"count":         count,
		"authoritative": authoritative,
	})
}

// handleWalletRefresh handles POST /api/wallets/{name}/refresh: pulls the
// wallet and applies it as the current snapshot.
func (s *Server) handleWalletRefresh(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.RefreshWalletByID(r.Context(), name); err != nil {
		writePullError(w, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.Ledger.Valuation())
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		if err := s.app.Reconnect(); err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, s.app.Connection.Status())
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.app.Connection.Status())
}

func (s *Server) handlePricesRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.RequestPrices(); err != nil {
		writeCommandError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// handleChat handles POST (send a message) and DELETE (clear the conversation).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.app.ClearConversation(); err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cleared"})
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := s.app.SendChat(req.Message); err != nil {
		writeCommandError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleSync handles POST /api/sync: runs every pull once and returns the result.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	s.app.Bootstrap(r.Context())
	s.writeJSON(w, r, http.StatusOK, s.app.Snapshot())
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.hub.ServeWS(w, r)
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEmptyMessage):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, connection.ErrNotConnected):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, "Not connected to trading server", "not_connected")
	case errors.Is(err, app.ErrClosed):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, "Engine is shutting down", "closed")
	default:
		WriteError(w, http.StatusBadRequest, err.Error())
	}
}

func writePullError(w http.ResponseWriter, err error) {
	var apiErr *hive.APIError
	switch {
	case errors.Is(err, app.ErrStaleResult), errors.Is(err, app.ErrClosed):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, "Engine is shutting down", "closed")
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		WriteError(w, http.StatusNotFound, apiErr.Message)
	case hive.IsApplicationError(err):
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), "upstream_error")
	default:
		WriteError(w, http.StatusBadGateway, err.Error())
	}
}

// writeJSON writes a state projection and logs when it cannot be encoded.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	if err := WriteJSON(w, statusCode, data); err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to encode response")
	}
}
