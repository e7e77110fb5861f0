// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package statusapi serves job status and lifecycle controls over HTTP,
// together with the Prometheus metrics endpoint.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Supervisor is the part of the job supervisor the server drives.
type Supervisor interface {
	List() []job.State
	Status(id job.ID) (job.State, error)
	Cancel(id job.ID) error
	SaveAndStop(id job.ID) error
	ForceStop(id job.ID) error
	UpdateConfiguration(id job.ID, patch job.Patch) error
}

// Server is the HTTP status surface.
type Server struct {
	router   *chi.Mux
	sup      Supervisor
	gatherer prometheus.Gatherer
	clock    func() time.Time
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(sup Supervisor, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:   chi.NewRouter(),
		sup:      sup,
		gatherer: gatherer,
		clock:    time.Now,
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/cancel", s.handleAction(s.sup.Cancel))
		r.Post("/{id}/stop", s.handleAction(s.sup.SaveAndStop))
		r.Post("/{id}/kill", s.handleAction(s.sup.ForceStop))
		r.Post("/{id}/update", s.handleUpdate)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		ctxlog.Info(ctx, "status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	states := s.sup.List()
	now := s.clock()

	out := make([]jobView, len(states))
	for i, st := range states {
		out[i] = newJobView(st, now)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.sup.Status(job.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newJobView(st, s.clock()))
}

func (s *Server) handleAction(action func(job.ID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := job.ID(chi.URLParam(r, "id"))

		if err := action(id); err != nil {
			writeError(w, err)
			return
		}

		s.writeStatus(w, id)
	}
}

// handleUpdate accepts a JSON object of configuration keys and values.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := job.ID(chi.URLParam(r, "id"))

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "request body must be a JSON object of strings: " + err.Error()})
		return
	}

	var p job.Patch
	for _, k := range slices.Sorted(maps.Keys(body)) {
		p.Set(k, body[k])
	}

	if err := p.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := s.sup.UpdateConfiguration(id, p); err != nil {
		writeError(w, err)
		return
	}

	s.writeStatus(w, id)
}

func (s *Server) writeStatus(w http.ResponseWriter, id job.ID) {
	st, err := s.sup.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newJobView(st, s.clock()))
}

type errorView struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, supervisor.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, supervisor.ErrInvalidTransition), errors.Is(err, supervisor.ErrUpdateRejected):
		code = http.StatusConflict
	case errors.Is(err, job.ErrInvalidJobSpec), errors.Is(err, job.ErrInvalidPatch):
		code = http.StatusBadRequest
	}

	writeJSON(w, code, errorView{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errchkjson
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		ctxlog.Debug(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
