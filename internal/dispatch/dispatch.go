// Package dispatch matches help requests to volunteers. All races between
// concurrent matchers and accepting volunteers resolve through guarded store
// transitions, so a request gains at most one assignment and a volunteer
// holds at most one active session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/metrics"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

var (
	// ErrAlreadyAssigned is returned when an accept loses to an earlier
	// assignment for the same request.
	ErrAlreadyAssigned = errors.New("request already assigned")
	// ErrVolunteerUnavailable is returned when the accepting volunteer is not
	// verified and available.
	ErrVolunteerUnavailable = errors.New("volunteer unavailable")
	// ErrRequestClosed is returned when the request is no longer matchable.
	ErrRequestClosed = errors.New("request closed")
)

const seenCap = 4096

// Service is the dispatcher.
type Service struct {
	store         store.Store
	registry      *registry.Service
	bus           bus.Bus
	matchRadiusKm float64
	logger        zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewService creates the dispatcher. Call Start to begin consuming topics.
func NewService(s store.Store, r *registry.Service, b bus.Bus, matchRadiusKm float64, logger zerolog.Logger) *Service {
	return &Service{
		store:         s,
		registry:      r,
		bus:           b,
		matchRadiusKm: matchRadiusKm,
		logger:        logger.With().Str("component", "dispatch").Logger(),
		seen:          make(map[string]struct{}),
	}
}

// Start subscribes the dispatcher to new requests and volunteer status
// transitions.
func (s *Service) Start() {
	s.bus.Subscribe(bus.TopicRequestsNew, s.handleRequestNew)
	s.bus.Subscribe(bus.TopicVolunteersStatus, s.handleVolunteerStatus)
}

// markSeen records a message ID, reporting whether it was already processed.
// The set is bounded; on overflow it resets, trading a rare duplicate
// dispatch attempt (harmless, the store transitions arbitrate) for bounded
// memory.
func (s *Service) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[id]; dup {
		return true
	}
	if len(s.seen) >= seenCap {
		s.seen = make(map[string]struct{})
	}
	s.seen[id] = struct{}{}
	return false
}

func (s *Service) handleRequestNew(ctx context.Context, env bus.Envelope) error {
	if s.markSeen(env.ID) {
		return nil
	}
	var msg bus.RequestNew
	if err := bus.DecodeInto(env, bus.KindRequestNew, &msg); err != nil {
		return err
	}
	return s.dispatch(ctx, msg.RequestID)
}

// handleVolunteerStatus revisits the manual-review queue whenever a volunteer
// turns available, so stalled requests get matched without operator action.
func (s *Service) handleVolunteerStatus(ctx context.Context, env bus.Envelope) error {
	if s.markSeen(env.ID) {
		return nil
	}
	var msg bus.VolunteerStatus
	if err := bus.DecodeInto(env, bus.KindVolunteerStatus, &msg); err != nil {
		return err
	}
	if msg.Availability != string(store.AvailabilityAvailable) {
		return nil
	}

	pending, err := s.store.ListPendingReview(ctx)
	if err != nil {
		return fmt.Errorf("list pending review: %w", err)
	}
	for _, req := range pending {
		if err := s.dispatch(ctx, req.ID); err != nil {
			s.logger.Error().Err(err).
				Str("request_id", req.ID).
				Msg("re-dispatch failed")
		}
	}
	return nil
}

// dispatch walks the candidate list for a request, claiming volunteers with a
// guarded transition. A lost claim means a concurrent dispatch won that
// volunteer; the loop simply moves on. With no winner the request parks in
// the manual-review queue.
func (s *Service) dispatch(ctx context.Context, requestID string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	if req.Status != store.RequestStatusNew && req.Status != store.RequestStatusPendingReview {
		return nil
	}

	candidates, err := s.registry.FindCandidates(ctx, req.Category, req.Location, s.matchRadiusKm)
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}

	for _, v := range candidates {
		claimed, err := s.store.ClaimVolunteer(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("claim volunteer: %w", err)
		}
		if !claimed {
			metrics.MatchRetries.Inc()
			continue
		}

		a, err := s.createAssignment(ctx, req, v.ID)
		if err != nil {
			return err
		}
		if a == nil {
			// The request was assigned elsewhere while we held the volunteer.
			if _, err := s.store.ReleaseVolunteer(ctx, v.ID); err != nil {
				return fmt.Errorf("release volunteer: %w", err)
			}
			return nil
		}
		return nil
	}

	if req.Status == store.RequestStatusNew {
		if err := s.store.MarkRequestPendingReview(ctx, req.ID); err != nil {
			return fmt.Errorf("mark pending review: %w", err)
		}
		metrics.RequestsPendingReview.Inc()
		s.logger.Warn().
			Str("request_id", req.ID).
			Str("category", string(req.Category)).
			Msg("no candidate matched, parked for review")
	}
	return nil
}

// Accept handles a volunteer claiming a specific request, from the map or the
// manual-review queue. The caller must already be authenticated as the
// volunteer.
func (s *Service) Accept(ctx context.Context, requestID, volunteerID string) (*store.Assignment, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	switch req.Status {
	case store.RequestStatusNew, store.RequestStatusPendingReview:
	case store.RequestStatusAssigned:
		return nil, ErrAlreadyAssigned
	default:
		return nil, ErrRequestClosed
	}

	claimed, err := s.store.ClaimVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("claim volunteer: %w", err)
	}
	if !claimed {
		return nil, ErrVolunteerUnavailable
	}

	a, err := s.createAssignment(ctx, req, volunteerID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		if _, err := s.store.ReleaseVolunteer(ctx, volunteerID); err != nil {
			return nil, fmt.Errorf("release volunteer: %w", err)
		}
		return nil, ErrAlreadyAssigned
	}
	return a, nil
}

// createAssignment runs the request-side guarded transition and, on winning,
// mints tokens, persists the assignment and announces it. A nil assignment
// with nil error means the request was already assigned; the caller must
// release the claimed volunteer. Failures past the transition back everything
// out, so neither the request nor the volunteer is left stranded.
func (s *Service) createAssignment(ctx context.Context, req *store.HelpRequest, volunteerID string) (*store.Assignment, error) {
	assignmentID := uuid.NewString()
	won, err := s.store.MarkRequestAssigned(ctx, req.ID, volunteerID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("mark assigned: %w", err)
	}
	if !won {
		return nil, nil
	}

	requesterToken, err := auth.NewChatToken()
	if err != nil {
		s.backOut(ctx, req.ID, volunteerID)
		return nil, err
	}
	volunteerToken, err := auth.NewChatToken()
	if err != nil {
		s.backOut(ctx, req.ID, volunteerID)
		return nil, err
	}

	a := &store.Assignment{
		ID:             assignmentID,
		RequestID:      req.ID,
		VolunteerID:    volunteerID,
		RequesterToken: requesterToken,
		VolunteerToken: volunteerToken,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateAssignment(ctx, a); err != nil {
		s.backOut(ctx, req.ID, volunteerID)
		return nil, fmt.Errorf("persist assignment: %w", err)
	}

	env, err := bus.NewEnvelope(bus.KindAssignmentCreated, bus.AssignmentCreated{
		AssignmentID:   a.ID,
		RequestID:      a.RequestID,
		VolunteerID:    a.VolunteerID,
		RequesterToken: a.RequesterToken,
		VolunteerToken: a.VolunteerToken,
		CreatedAt:      a.CreatedAt,
	})
	if err != nil {
		s.dropAssignment(ctx, a.ID)
		s.backOut(ctx, req.ID, volunteerID)
		return nil, err
	}
	if err := s.bus.Publish(ctx, bus.TopicAssignmentsCreate, env); err != nil {
		s.dropAssignment(ctx, a.ID)
		s.backOut(ctx, req.ID, volunteerID)
		return nil, fmt.Errorf("announce assignment: %w", err)
	}

	metrics.AssignmentsCreated.Inc()
	if req.Status == store.RequestStatusPendingReview {
		metrics.RequestsPendingReview.Dec()
	}
	s.logger.Info().
		Str("request_id", a.RequestID).
		Str("volunteer_id", a.VolunteerID).
		Str("assignment_id", a.ID).
		Msg("assignment created")
	return a, nil
}

// backOut reverts a half-built assignment: the request returns to matchable
// and the volunteer to the pool.
func (s *Service) backOut(ctx context.Context, requestID, volunteerID string) {
	if err := s.store.ReopenRequest(ctx, requestID); err != nil {
		s.logger.Error().Err(err).
			Str("request_id", requestID).
			Msg("reopen request failed")
	}
	if _, err := s.store.ReleaseVolunteer(ctx, volunteerID); err != nil {
		s.logger.Error().Err(err).
			Str("volunteer_id", volunteerID).
			Msg("release volunteer failed")
	}
}

func (s *Service) dropAssignment(ctx context.Context, assignmentID string) {
	if err := s.store.DeleteAssignment(ctx, assignmentID); err != nil {
		s.logger.Error().Err(err).
			Str("assignment_id", assignmentID).
			Msg("delete assignment failed")
	}
}
