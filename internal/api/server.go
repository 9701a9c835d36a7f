// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the FitnessSession orchestrator over HTTP: device
// ingest, roster and guest management, media input, and read-only summary
// and governance views. One Server wraps exactly one orchestrator instance,
// matching the teacher's one-router-per-process shape.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fitcore/fitcore/internal/domain/device"
	"github.com/fitcore/fitcore/internal/domain/session/manager"
	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/user"
	"github.com/fitcore/fitcore/internal/fcerr"
	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/ratelimit"
)

// Server is the HTTP front door onto a single FitnessSession.
type Server struct {
	session *manager.FitnessSession
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
	clock   func() time.Time
}

// New builds a Server. specPath, if non-empty, is validated with kin-openapi
// at construction time so a malformed contract fails fast at boot instead of
// surfacing as a confusing runtime 500.
func New(session *manager.FitnessSession, limiter *ratelimit.Limiter, specPath string) (*Server, error) {
	if specPath != "" {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromFile(specPath)
		if err != nil {
			return nil, err
		}
		if err := doc.Validate(context.Background()); err != nil {
			return nil, err
		}
	}
	return &Server{
		session: session,
		limiter: limiter,
		logger:  log.WithComponent("api"),
		clock:   time.Now,
	}, nil
}

// Routes builds the chi router. The middleware order mirrors the teacher's
// canonical ingress stack: recover first, request id next, then logging.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Post("/roster", s.handleRoster)
	r.Post("/assign-guest", s.handleAssignGuest)
	r.Post("/media", s.handleMedia)
	r.Get("/summary", s.handleSummary)
	r.Get("/governance", s.handleGovernance)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID string             `json:"deviceId"`
		Profile  string             `json:"profile"`
		Data     map[string]float64 `json:"data"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if s.limiter != nil && !s.limiter.Allow(body.DeviceID, body.Profile) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}
	frame := device.Frame{
		DeviceID:  body.DeviceID,
		Profile:   body.Profile,
		Data:      body.Data,
		Timestamp: s.clock(),
	}
	env, err := s.session.Ingest(r.Context(), frame, s.clock())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeEnvelope(w, env)
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Roster            []user.RosterEntry `json:"roster"`
		DeviceAssignments map[string]string  `json:"deviceAssignments"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.session.SetParticipantRoster(model.RosterInput{
		Roster:            body.Roster,
		DeviceAssignments: body.DeviceAssignments,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAssignGuest(w http.ResponseWriter, r *http.Request) {
	var body user.AssignGuestInput
	if !decodeBody(w, r, &body) {
		return
	}
	entity, err := s.session.AssignGuest(body, s.clock())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeEnvelope(w, fcerr.Ok(map[string]any{"entity": entity}))
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	var body model.MediaInput
	if !decodeBody(w, r, &body) {
		return
	}
	s.session.SetMedia(body)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Summary())
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Summary().Governance)
}
