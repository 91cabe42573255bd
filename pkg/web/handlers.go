package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/mqtt"
	"github.com/itohio/gotank/pkg/sample"
)

const (
	maxBody       = 64 << 10
	defaultWindow = 10 * time.Minute
	defaultPoints = 300
	maxPoints     = 5000
)

type errorBody struct {
	Error string `json:"error"`
}

type configReply struct {
	Config          config.Config `json:"config"`
	RestartRequired bool          `json:"restart_required"`
}

type historyReply struct {
	Samples     []sample.Sample     `json:"samples"`
	Transitions []sample.Transition `json:"transitions"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	if latest, ok := s.history.Latest(); ok {
		st.Recorded = &latest
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configReply{Config: redact(s.store.Get())})
}

// handlePostConfig merges a partial JSON document into the current
// configuration. Empty passwords keep the stored ones.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	before := s.store.Get()
	err = s.store.Update(func(c *config.Config) error {
		mqttPass, webPass := c.MQTT.Pass, c.Web.Pass
		if err := json.Unmarshal(body, c); err != nil {
			return &decodeError{err}
		}
		if c.MQTT.Pass == "" {
			c.MQTT.Pass = mqttPass
		}
		if c.Web.Pass == "" {
			c.Web.Pass = webPass
		}
		return nil
	})

	var de *decodeError
	switch {
	case errors.As(err, &de):
		writeError(w, http.StatusBadRequest, de.Error())
		return
	case errors.Is(err, config.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("failed to update config")
		writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	after := s.store.Get()
	s.log.Info().Msg("configuration updated")
	writeJSON(w, http.StatusOK, configReply{
		Config:          redact(after),
		RestartRequired: restartRequired(before, after),
	})
}

func (s *Server) handleReannounce(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Reannounce(r.Context())
	switch {
	case errors.Is(err, mqtt.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "mqtt offline")
	case err != nil:
		s.log.Warn().Err(err).Msg("reannounce failed")
		writeError(w, http.StatusBadGateway, "reannounce failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	s.ctrl.Restart()
}

// handleHistory returns telemetry of the last window, decimated to at
// most points samples.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window := defaultWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	points := defaultPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPoints {
			writeError(w, http.StatusBadRequest, "invalid points")
			return
		}
		points = n
	}

	since := time.Now().Add(-window)
	samples := sample.Downsample(nil, s.history.Since(since), points)
	transitions := make([]sample.Transition, 0)
	for _, t := range s.history.Transitions() {
		if t.Timestamp.After(since) {
			transitions = append(transitions, t)
		}
	}
	writeJSON(w, http.StatusOK, historyReply{Samples: samples, Transitions: transitions})
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "invalid json: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func redact(c config.Config) config.Config {
	c.MQTT.Pass = ""
	c.Web.Pass = ""
	return c
}

// restartRequired reports changes that only take effect on start-up.
func restartRequired(before, after config.Config) bool {
	return before.Device != after.Device ||
		before.MQTT != after.MQTT ||
		before.Web.Listen != after.Web.Listen ||
		before.Serial != after.Serial ||
		before.Sensors.Kind != after.Sensors.Kind ||
		before.Sensors.Sensor50 != after.Sensors.Sensor50 ||
		before.Sensors.Sensor100 != after.Sensors.Sensor100 ||
		before.Sensors.Factory != after.Sensors.Factory ||
		before.Detector.MaxRaw != after.Detector.MaxRaw ||
		before.Detector.InitialLevel != after.Detector.InitialLevel ||
		before.History != after.History ||
		before.Mock != after.Mock
}
