// Package registry manages volunteer onboarding, verification, availability
// and candidate lookup for the dispatcher.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

var (
	// ErrInvalidCode is returned when a verification code matches no volunteer.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrAlreadyVerified is returned when a verification code is replayed.
	ErrAlreadyVerified = errors.New("volunteer already verified")
	// ErrInvalidSkills is returned when registration lists no valid skill.
	ErrInvalidSkills = errors.New("invalid skills")
	// ErrInvalidName is returned when the volunteer name is empty.
	ErrInvalidName = errors.New("invalid name")
)

// Service is the volunteer registry.
type Service struct {
	store     store.VolunteerStore
	bus       bus.Bus
	jwtConfig *auth.JWTConfig
	logger    zerolog.Logger
}

// NewService creates the registry service.
func NewService(s store.VolunteerStore, b bus.Bus, jwtConfig *auth.JWTConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:     s,
		bus:       b,
		jwtConfig: jwtConfig,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Registration is a new volunteer record as entered by a partner operator.
type Registration struct {
	Name     string
	Phone    string
	Skills   []string
	Location *geo.Point
}

// Register creates an unverified volunteer and returns the one-time
// verification code. The code is handed to the volunteer out of band; only
// its digest is stored, so this is the only moment it is visible.
func (s *Service) Register(ctx context.Context, reg Registration) (*store.Volunteer, string, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, "", ErrInvalidName
	}

	skills := make([]store.Category, 0, len(reg.Skills))
	for _, raw := range reg.Skills {
		c, err := store.ParseCategory(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidSkills, raw)
		}
		skills = append(skills, c)
	}
	if len(skills) == 0 {
		return nil, "", ErrInvalidSkills
	}

	if reg.Location != nil {
		if err := reg.Location.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid location: %w", err)
		}
	}

	code, err := auth.NewVerificationCode()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	v := &store.Volunteer{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     strings.TrimSpace(reg.Phone),
		Skills:    skills,
		Verified:  false,
		Available: store.AvailabilityOffline,
		Location:  reg.Location,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := s.store.CreateVolunteer(ctx, v, auth.DigestCode(code)); err != nil {
		return nil, "", fmt.Errorf("persist volunteer: %w", err)
	}

	s.logger.Info().
		Str("volunteer_id", v.ID).
		Msg("volunteer registered")
	return v, code, nil
}

// Verify redeems a verification code. On success the volunteer is marked
// verified, flipped to available and handed a JWT for the volunteer API.
func (s *Service) Verify(ctx context.Context, code string) (*store.Volunteer, string, error) {
	v, err := s.store.GetVolunteerByCodeDigest(ctx, auth.DigestCode(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCode
		}
		return nil, "", fmt.Errorf("lookup code: %w", err)
	}
	if v.Verified {
		return nil, "", ErrAlreadyVerified
	}

	if err := s.store.MarkVolunteerVerified(ctx, v.ID); err != nil {
		return nil, "", fmt.Errorf("mark verified: %w", err)
	}
	v.Verified = true
	v.Available = store.AvailabilityAvailable

	token, err := auth.GenerateToken(s.jwtConfig, v.ID, auth.RoleVolunteer)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	if err := s.announceStatus(ctx, v.ID, store.AvailabilityAvailable); err != nil {
		return nil, "", err
	}

	s.logger.Info().
		Str("volunteer_id", v.ID).
		Msg("volunteer verified")
	return v, token, nil
}

// SetAvailability handles a volunteer's own online/offline toggle and
// announces the transition so the dispatcher can revisit stalled requests.
func (s *Service) SetAvailability(ctx context.Context, volunteerID string, a store.Availability) error {
	if err := s.store.SetVolunteerAvailability(ctx, volunteerID, a); err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return s.announceStatus(ctx, volunteerID, a)
}

func (s *Service) announceStatus(ctx context.Context, volunteerID string, a store.Availability) error {
	env, err := bus.NewEnvelope(bus.KindVolunteerStatus, bus.VolunteerStatus{
		VolunteerID:  volunteerID,
		Availability: string(a),
		At:           time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, bus.TopicVolunteersStatus, env); err != nil {
		return fmt.Errorf("announce status: %w", err)
	}
	return nil
}

// FindCandidates returns verified, available volunteers with the needed skill
// within radiusKm of origin, nearest first. Volunteers without a location are
// treated as out of range. Ties break on the lower ID so concurrent
// dispatchers walk the same order.
func (s *Service) FindCandidates(ctx context.Context, c store.Category, origin geo.Point, radiusKm float64) ([]*store.Volunteer, error) {
	matchable, err := s.store.ListMatchable(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list matchable: %w", err)
	}

	type ranked struct {
		v *store.Volunteer
		d float64
	}
	candidates := make([]ranked, 0, len(matchable))
	for _, v := range matchable {
		if v.Location == nil {
			continue
		}
		d := geo.DistanceKm(origin, *v.Location)
		if d > radiusKm {
			continue
		}
		candidates = append(candidates, ranked{v: v, d: d})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].d != candidates[j].d {
			return candidates[i].d < candidates[j].d
		}
		return candidates[i].v.ID < candidates[j].v.ID
	})

	out := make([]*store.Volunteer, len(candidates))
	for i, rc := range candidates {
		out[i] = rc.v
	}
	return out, nil
}
