package store

import (
	"context"
	"errors"
	"time"

	"github.com/sosnairobi/aidlink-server/internal/geo"
)

// Category is the kind of help a request asks for and a volunteer can offer.
type Category string

const (
	CategoryMedical Category = "Medical"
	CategoryLegal   Category = "Legal"
	CategoryShelter Category = "Shelter"
)

var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryMedical, CategoryLegal, CategoryShelter:
		return Category(raw), nil
	default:
		return "", ErrUnknownCategory
	}
}

// RequestStatus tracks a help request through its lifecycle.
type RequestStatus string

const (
	RequestStatusNew RequestStatus = "new"
	// RequestStatusPendingReview marks a request no dispatch cycle could
	// match. It is terminal until an operator acts or a volunteer becomes
	// available nearby.
	RequestStatusPendingReview RequestStatus = "pending_review"
	RequestStatusAssigned      RequestStatus = "assigned"
	RequestStatusClosed        RequestStatus = "closed"
)

// Availability is a volunteer's dispatch state.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

var ErrUnknownAvailability = errors.New("unknown availability")

// ParseAvailability validates a raw availability string.
func ParseAvailability(raw string) (Availability, error) {
	switch Availability(raw) {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityOffline:
		return Availability(raw), nil
	default:
		return "", ErrUnknownAvailability
	}
}

// RequestSource identifies where a help request entered the system.
type RequestSource string

const (
	SourceDirectApp RequestSource = "direct_app"
	// SourceFeed covers requests forwarded by the external text-monitoring
	// front end; they arrive pre-classified and are handled like any other.
	SourceFeed RequestSource = "feed"
)

// HelpRequest is a normalized, location-obfuscated plea for help.
// Immutable after creation except Status and the assignment columns.
type HelpRequest struct {
	ID           string
	Category     Category
	Location     geo.Point // already obfuscated; the raw point is never stored
	LocationText string
	Content      string
	Source       RequestSource
	Status       RequestStatus
	// AssignedVolunteerID and AssignmentID record who won the request. Set by
	// MarkRequestAssigned, cleared again if the assignment is backed out.
	AssignedVolunteerID string
	AssignmentID        string
	CreatedAt           time.Time
}

// Volunteer is a registered responder. Availability has exactly one writer at
// a time, enforced by the guarded store transitions below.
type Volunteer struct {
	ID        string
	Name      string
	Phone     string
	Skills    []Category
	Verified  bool
	Available Availability
	Location  *geo.Point
	CreatedAt time.Time
	LastSeen  time.Time
}

// HasSkill reports whether the volunteer covers the given category.
func (v *Volunteer) HasSkill(c Category) bool {
	for _, s := range v.Skills {
		if s == c {
			return true
		}
	}
	return false
}

// Assignment pairs one request with one volunteer and carries the per-party
// chat secrets. Immutable; at most one non-cancelled assignment per request.
type Assignment struct {
	ID             string
	RequestID      string
	VolunteerID    string
	RequesterToken string
	VolunteerToken string
	CreatedAt      time.Time
}

// Operator is a partner-organization account with access to the manual-review
// queue and volunteer onboarding.
type Operator struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CreatedAt    time.Time
}

// RequestStore handles help request persistence.
type RequestStore interface {
	// CreateRequest persists a new help request.
	CreateRequest(ctx context.Context, req *HelpRequest) error

	// GetRequest retrieves a request by ID.
	GetRequest(ctx context.Context, id string) (*HelpRequest, error)

	// MarkRequestAssigned transitions new|pending_review -> assigned and
	// records the winning volunteer and assignment on the row. Returns false
	// without error if the request was already claimed; this is the arbiter
	// for concurrent accepts.
	MarkRequestAssigned(ctx context.Context, id, volunteerID, assignmentID string) (bool, error)

	// ReopenRequest transitions assigned -> new and clears the assignment
	// columns. Used to back out of a half-built assignment.
	ReopenRequest(ctx context.Context, id string) error

	// MarkRequestPendingReview transitions new -> pending_review.
	MarkRequestPendingReview(ctx context.Context, id string) error

	// MarkRequestClosed transitions any non-closed status -> closed.
	MarkRequestClosed(ctx context.Context, id string) error

	// ListActiveRequests returns requests visible on the map
	// (new, pending_review, assigned), newest first, capped at limit.
	ListActiveRequests(ctx context.Context, limit int) ([]*HelpRequest, error)

	// ListPendingReview returns requests awaiting manual review, oldest first.
	ListPendingReview(ctx context.Context) ([]*HelpRequest, error)
}

// VolunteerStore handles volunteer persistence and the availability CAS.
type VolunteerStore interface {
	// CreateVolunteer persists a new volunteer with its verification code digest.
	CreateVolunteer(ctx context.Context, v *Volunteer, codeDigest string) error

	// GetVolunteer retrieves a volunteer by ID.
	GetVolunteer(ctx context.Context, id string) (*Volunteer, error)

	// GetVolunteerByCodeDigest retrieves a volunteer by verification code digest.
	GetVolunteerByCodeDigest(ctx context.Context, digest string) (*Volunteer, error)

	// MarkVolunteerVerified sets verified and flips availability to available.
	MarkVolunteerVerified(ctx context.Context, id string) error

	// ClaimVolunteer transitions available -> busy. Returns false without
	// error when another dispatch already claimed the volunteer.
	ClaimVolunteer(ctx context.Context, id string) (bool, error)

	// ReleaseVolunteer transitions busy -> available. Returns false without
	// error if the volunteer was not busy.
	ReleaseVolunteer(ctx context.Context, id string) (bool, error)

	// SetVolunteerAvailability sets availability unconditionally (self-service
	// online/offline toggling).
	SetVolunteerAvailability(ctx context.Context, id string, a Availability) error

	// ListMatchable returns verified, available volunteers holding the skill,
	// ordered by ID for deterministic downstream tie-breaking.
	ListMatchable(ctx context.Context, c Category) ([]*Volunteer, error)
}

// AssignmentStore handles assignment persistence.
type AssignmentStore interface {
	// CreateAssignment persists an assignment.
	CreateAssignment(ctx context.Context, a *Assignment) error

	// GetAssignment retrieves an assignment by ID.
	GetAssignment(ctx context.Context, id string) (*Assignment, error)

	// GetAssignmentByRequest retrieves the assignment for a request, if any.
	GetAssignmentByRequest(ctx context.Context, requestID string) (*Assignment, error)

	// DeleteAssignment removes an assignment row when backing out of a
	// half-built assignment.
	DeleteAssignment(ctx context.Context, id string) error
}

// OperatorStore handles partner operator accounts.
type OperatorStore interface {
	// CreateOperator persists an operator with a bcrypt password hash.
	CreateOperator(ctx context.Context, op *Operator) error

	// GetOperatorByEmail retrieves an operator by email.
	GetOperatorByEmail(ctx context.Context, email string) (*Operator, error)
}

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// Store aggregates all storage interfaces.
type Store interface {
	RequestStore
	VolunteerStore
	AssignmentStore
	OperatorStore

	// Close closes the underlying database connection.
	Close() error
}
