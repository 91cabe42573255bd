// Package web serves the JSON control API: status, configuration,
// telemetry history and MQTT re-announce.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/sample"
)

// Status is the live controller state.
type Status struct {
	Level    uint8          `json:"level"`
	Error    bool           `json:"error"`
	Relay    bool           `json:"relay"`
	Mode     string         `json:"mode"`
	MQTT     bool           `json:"mqtt"`
	Uptime   string         `json:"uptime"`
	Probes   []sample.Probe `json:"probes,omitempty"`
	Recorded *sample.Sample `json:"recorded,omitempty"` // newest history record
}

// Controller is the daemon side of the API.
type Controller interface {
	Status() Status
	Reannounce(ctx context.Context) error
	Restart()
}

// History provides recorded telemetry.
type History interface {
	Since(t time.Time) []sample.Sample
	Latest() (sample.Sample, bool)
	Transitions() []sample.Transition
}

// Server is a chi router on top of an http.Server.
type Server struct {
	store   *config.Store
	ctrl    Controller
	history History
	log     zerolog.Logger

	mux *chi.Mux
	srv *http.Server
}

// NewServer builds the API router.
func NewServer(addr string, store *config.Store, ctrl Controller, history History, log zerolog.Logger) *Server {
	s := &Server{
		store:   store,
		ctrl:    ctrl,
		history: history,
		log:     log.With().Str("component", "web").Logger(),
		mux:     chi.NewRouter(),
	}

	s.mux.Use(
		chimw.RequestID,
		chimw.RealIP,
		recoverJSON(s.log),
		accessLog(s.log),
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}),
		chimw.NoCache,
	)

	s.mux.Route("/api", func(r chi.Router) {
		r.Use(basicAuth(store))
		r.Get("/status", s.handleStatus)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)
		r.Post("/reannounce", s.handleReannounce)
		r.Post("/reboot", s.handleReboot)
		r.Get("/history", s.handleHistory)
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until Shutdown.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
