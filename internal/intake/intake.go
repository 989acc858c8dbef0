// Package intake validates, sanitizes and records incoming help requests.
// It is the only component that ever sees a requester's raw location.
package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/metrics"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

const maxContentLength = 2000

var (
	// ErrInvalidCategory is returned when the category is not one of the
	// supported kinds of help.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidCoordinates is returned when the location is outside valid
	// latitude/longitude bounds.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrEmptyContent is returned when the request text is empty after
	// sanitization.
	ErrEmptyContent = errors.New("empty content")
	// ErrContentTooLong is returned when the request text exceeds the limit.
	ErrContentTooLong = errors.New("content too long")
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Submission is a raw help request as it arrives from a client or the feed.
type Submission struct {
	Category     string
	Location     geo.Point
	LocationText string
	Content      string
	Source       store.RequestSource
}

// Service is the request intake pipeline.
type Service struct {
	store             store.RequestStore
	bus               bus.Bus
	logger            zerolog.Logger
	obfuscationRadius float64
}

// NewService creates the intake service. obfuscationRadius is in degrees.
func NewService(s store.RequestStore, b bus.Bus, obfuscationRadius float64, logger zerolog.Logger) *Service {
	return &Service{
		store:             s,
		bus:               b,
		logger:            logger.With().Str("component", "intake").Logger(),
		obfuscationRadius: obfuscationRadius,
	}
}

// Submit validates the submission, obfuscates its location, persists it and
// announces it for dispatch. The returned request carries the obfuscated
// location; the raw point is discarded here and never stored or published.
func (s *Service) Submit(ctx context.Context, sub Submission) (*store.HelpRequest, error) {
	category, err := store.ParseCategory(sub.Category)
	if err != nil {
		metrics.RequestsRejected.WithLabelValues("category").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, sub.Category)
	}

	if err := sub.Location.Validate(); err != nil {
		metrics.RequestsRejected.WithLabelValues("coordinates").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}

	content := Sanitize(sub.Content)
	if content == "" {
		metrics.RequestsRejected.WithLabelValues("content").Inc()
		return nil, ErrEmptyContent
	}
	if len(content) > maxContentLength {
		metrics.RequestsRejected.WithLabelValues("content").Inc()
		return nil, ErrContentTooLong
	}

	source := sub.Source
	if source == "" {
		source = store.SourceDirectApp
	}

	req := &store.HelpRequest{
		ID:           uuid.NewString(),
		Category:     category,
		Location:     geo.Obfuscate(sub.Location, s.obfuscationRadius),
		LocationText: Sanitize(sub.LocationText),
		Content:      content,
		Source:       source,
		Status:       store.RequestStatusNew,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}

	env, err := bus.NewEnvelope(bus.KindRequestNew, bus.RequestNew{
		RequestID: req.ID,
		Category:  string(req.Category),
		Location:  req.Location,
		Source:    string(req.Source),
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.bus.Publish(ctx, bus.TopicRequestsNew, env); err != nil {
		return nil, fmt.Errorf("announce request: %w", err)
	}

	metrics.RequestsReceived.WithLabelValues(string(req.Category), string(req.Source)).Inc()
	s.logger.Info().
		Str("request_id", req.ID).
		Str("category", string(req.Category)).
		Str("source", string(req.Source)).
		Msg("request accepted")

	return req, nil
}

// Sanitize strips markup and collapses whitespace. Request text is relayed to
// volunteers and shown to operators, so it must carry no active content.
func Sanitize(raw string) string {
	out := htmlTagRe.ReplaceAllString(raw, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
