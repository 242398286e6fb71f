package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tanda/internal/core"
	applog "tanda/internal/log"
	"tanda/internal/services"
)

// Server is the engine's JSON API.
type Server struct {
	circles       *services.CircleService
	contributions *services.ContributionService
	advances      *services.AdvanceService
	defaults      *services.DefaultService
	trust         *services.TrustService
	httpServer    *http.Server
}

func NewServer(addr string, circles *services.CircleService, contributions *services.ContributionService, advances *services.AdvanceService, defaults *services.DefaultService, trust *services.TrustService) *Server {
	s := &Server{
		circles:       circles,
		contributions: contributions,
		advances:      advances,
		defaults:      defaults,
		trust:         trust,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /circles", s.handleCreateCircle)
	mux.HandleFunc("GET /circles", s.handleListCircles)
	mux.HandleFunc("GET /circles/{id}", s.handleGetCircle)
	mux.HandleFunc("POST /circles/{id}/join", s.handleJoinCircle)
	mux.HandleFunc("POST /circles/{id}/leave", s.handleLeaveCircle)
	mux.HandleFunc("POST /circles/{id}/activate", s.handleActivateCircle)
	mux.HandleFunc("POST /circles/{id}/cancel", s.handleCancelCircle)
	mux.HandleFunc("GET /circles/{id}/payout-order", s.handlePayoutOrder)
	mux.HandleFunc("GET /circles/{id}/members/{memberID}", s.handleMemberStatus)
	mux.HandleFunc("POST /circles/{id}/members/{memberID}/replace", s.handleReplaceMember)
	mux.HandleFunc("POST /cycles/{id}/payments", s.handleRecordPayment)
	mux.HandleFunc("POST /advances", s.handleRequestAdvance)
	mux.HandleFunc("GET /members/{id}/score", s.handleScore)
	mux.HandleFunc("GET /members/{id}/score/history", s.handleScoreHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      applog.Middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving requests until the server is shut down.
func (s *Server) Start() error {
	slog.Info("HTTP server listening",
		applog.FieldComponent, applog.ComponentHTTP,
		"addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusForError maps domain sentinels onto HTTP statuses: unknown
// entities are 404, bad input is 422, state conflicts are 409, and policy
// refusals are 403.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownCircle),
		errors.Is(err, core.ErrUnknownMember),
		errors.Is(err, core.ErrUnknownCycle),
		errors.Is(err, core.ErrUnknownContribution),
		errors.Is(err, core.ErrUnknownAdvance):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidFrequency),
		errors.Is(err, core.ErrInvalidMembers),
		errors.Is(err, core.ErrEmptyName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInsufficientScore),
		errors.Is(err, core.ErrMemberRestricted):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAlreadyPaid),
		errors.Is(err, core.ErrAlreadyMember),
		errors.Is(err, core.ErrAdvanceOutstanding),
		errors.Is(err, core.ErrCannotCancelActiveCycle),
		errors.Is(err, core.ErrCircleNotForming),
		errors.Is(err, core.ErrCircleNotActive),
		errors.Is(err, core.ErrCircleFull),
		errors.Is(err, core.ErrCircleNotReady),
		errors.Is(err, core.ErrCycleAlreadyOpen),
		errors.Is(err, core.ErrCycleNotCloseable),
		errors.Is(err, core.ErrMemberNotActive),
		errors.Is(err, core.ErrMemberPaidOut),
		errors.Is(err, core.ErrMemberNotDefaulted),
		errors.Is(err, core.ErrOutstandingObligation),
		errors.Is(err, core.ErrGracePeriodExpired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
