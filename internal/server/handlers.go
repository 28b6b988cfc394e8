package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chrissnell/meterexporter/internal/health"
	"github.com/chrissnell/meterexporter/internal/log"
	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/stat"
)

// setupRouter configures the HTTP router with all endpoints
func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(s.logger))

	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/channels", s.getChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels/{name}", s.getChannel).Methods(http.MethodGet)
	api.HandleFunc("/tick", s.getTick).Methods(http.MethodGet)

	return router
}

// ChannelView is a channel's validation state as served by the API.
type ChannelView struct {
	validate.ChannelSnapshot
	Metric  string `json:"metric,omitempty"`
	Address string `json:"address,omitempty"`
	// Window statistics over the raw readings of an instantaneous channel.
	WindowMean   *float64 `json:"window_mean,omitempty"`
	WindowStdDev *float64 `json:"window_stddev,omitempty"`
}

func (s *Server) channelView(snap validate.ChannelSnapshot) ChannelView {
	v := ChannelView{ChannelSnapshot: snap}
	if ch, ok := s.channels[snap.Name]; ok {
		v.Metric = ch.Metric
		v.Address = fmt.Sprintf("0x%04X", ch.Address)
	}

	switch n := len(snap.Window); {
	case n == 1:
		mean := snap.Window[0]
		v.WindowMean = &mean
	case n > 1:
		mean, std := stat.MeanStdDev(snap.Window, nil)
		v.WindowMean = &mean
		v.WindowStdDev = &std
	}
	return v
}

func (s *Server) getChannels(w http.ResponseWriter, req *http.Request) {
	snaps := s.engine.Snapshot()
	views := make([]ChannelView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, s.channelView(snap))
	}
	s.write(w, req, http.StatusOK, views)
}

func (s *Server) getChannel(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	snap, err := s.engine.ChannelSnapshot(name)
	if errors.Is(err, validate.ErrUnknownChannel) {
		s.writeError(w, req, http.StatusNotFound, fmt.Sprintf("unknown channel %q", name))
		return
	}
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.write(w, req, http.StatusOK, s.channelView(snap))
}

func (s *Server) getTick(w http.ResponseWriter, req *http.Request) {
	tick := s.ticks.Latest()
	if tick == nil {
		s.writeError(w, req, http.StatusNotFound, "no tick completed yet")
		return
	}
	s.write(w, req, http.StatusOK, tick)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     health.Status          `json:"status"`
	Components map[string]health.Data `json:"components"`
	CheckedAt  time.Time              `json:"checked_at"`
}

func (s *Server) getHealth(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:     s.health.Overall(),
		Components: s.health.All(),
		CheckedAt:  time.Now().UTC(),
	}

	status := http.StatusOK
	if resp.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.write(w, req, status, resp)
}

func (s *Server) write(w http.ResponseWriter, req *http.Request, status int, data any) {
	if err := s.formatter.WriteStatus(w, req, status, data); err != nil {
		s.logger.Errorf("writing response for %s: %v", req.URL.Path, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, status int, msg string) {
	if err := s.formatter.WriteError(w, req, status, msg); err != nil {
		s.logger.Errorf("writing error response for %s: %v", req.URL.Path, err)
	}
}
