package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/dispatch"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/intake"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{deps: deps, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitRequestBody is the help request submission body.
type SubmitRequestBody struct {
	Category     string  `json:"category" binding:"required"`
	Lat          float64 `json:"lat" binding:"required"`
	Lng          float64 `json:"lng" binding:"required"`
	LocationText string  `json:"location_text"`
	Content      string  `json:"content" binding:"required"`
	Source       string  `json:"source"`
}

// SubmitRequestResponse acknowledges an accepted request. RequestID doubles
// as the requester's notification identity; it is the only handle an
// anonymous requester ever gets.
type SubmitRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// SubmitRequest handles a new help request.
// POST /api/v1/request/direct
func (h *APIHandlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Debug().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	source := store.RequestSource(body.Source)
	if source != "" && source != store.SourceDirectApp && source != store.SourceFeed {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid source"})
		return
	}

	req, err := h.deps.Intake.Submit(c.Request.Context(), intake.Submission{
		Category:     body.Category,
		Location:     geo.Point{Lat: body.Lat, Lng: body.Lng},
		LocationText: body.LocationText,
		Content:      body.Content,
		Source:       source,
	})
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrInvalidCategory),
			errors.Is(err, intake.ErrInvalidCoordinates),
			errors.Is(err, intake.ErrEmptyContent),
			errors.Is(err, intake.ErrContentTooLong):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Msg("failed to submit request")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, SubmitRequestResponse{
		RequestID: req.ID,
		Status:    string(req.Status),
	})
}

// VerifyVolunteerBody carries a one-time verification code.
type VerifyVolunteerBody struct {
	Code string `json:"code" binding:"required"`
}

// VerifyVolunteerResponse returns the volunteer's API token.
type VerifyVolunteerResponse struct {
	VolunteerID string `json:"volunteer_id"`
	Token       string `json:"token"`
}

// VerifyVolunteer redeems a verification code.
// POST /api/v1/volunteer/verify
func (h *APIHandlers) VerifyVolunteer(c *gin.Context) {
	var body VerifyVolunteerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	v, token, err := h.deps.Registry.Verify(c.Request.Context(), body.Code)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid verification code"})
		case errors.Is(err, registry.ErrAlreadyVerified):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "code already used"})
		default:
			h.log.Error().Err(err).Msg("failed to verify volunteer")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, VerifyVolunteerResponse{VolunteerID: v.ID, Token: token})
}

// SetAvailabilityBody is the volunteer's availability toggle.
type SetAvailabilityBody struct {
	Availability string `json:"availability" binding:"required"`
}

// SetAvailability handles a volunteer's own status change.
// POST /api/v1/volunteer/status
func (h *APIHandlers) SetAvailability(c *gin.Context) {
	var body SetAvailabilityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	availability, err := store.ParseAvailability(body.Availability)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid availability"})
		return
	}

	volunteerID := c.GetString(ContextKeySubjectID)
	if err := h.deps.Registry.SetAvailability(c.Request.Context(), volunteerID, availability); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "volunteer not found"})
			return
		}
		h.log.Error().Err(err).Str("volunteer_id", volunteerID).Msg("failed to set availability")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// AcceptResponse is the winning volunteer's session handle. The token is the
// caller's own chat secret; the requester's travels by notification only.
type AcceptResponse struct {
	AssignmentID string `json:"assignment_id"`
	RoomID       string `json:"room_id"`
	Token        string `json:"token"`
}

// AcceptRequest handles a volunteer claiming a specific request.
// POST /api/v1/request/:id/accept
func (h *APIHandlers) AcceptRequest(c *gin.Context) {
	requestID := c.Param("id")
	volunteerID := c.GetString(ContextKeySubjectID)

	a, err := h.deps.Dispatch.Accept(c.Request.Context(), requestID, volunteerID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "request not found"})
		case errors.Is(err, dispatch.ErrAlreadyAssigned):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "request already assigned"})
		case errors.Is(err, dispatch.ErrRequestClosed):
			c.JSON(http.StatusGone, ErrorResponse{Error: "request closed"})
		case errors.Is(err, dispatch.ErrVolunteerUnavailable):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "volunteer unavailable"})
		default:
			h.log.Error().Err(err).Str("request_id", requestID).Msg("failed to accept request")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, AcceptResponse{
		AssignmentID: a.ID,
		RoomID:       a.ID,
		Token:        a.VolunteerToken,
	})
}

// Hotspot is one map marker. Coordinates are the obfuscated ones from intake;
// nothing more precise exists server side.
type Hotspot struct {
	RequestID string  `json:"request_id"`
	Category  string  `json:"category"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	CreatedAt int64   `json:"created_at"`
}

const hotspotLimit = 200

// MapHotspots lists active requests for the public map.
// GET /api/v1/map/hotspots
func (h *APIHandlers) MapHotspots(c *gin.Context) {
	reqs, err := h.deps.Store.ListActiveRequests(c.Request.Context(), hotspotLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list active requests")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	hotspots := make([]Hotspot, 0, len(reqs))
	for _, r := range reqs {
		hotspots = append(hotspots, Hotspot{
			RequestID: r.ID,
			Category:  string(r.Category),
			Lat:       r.Location.Lat,
			Lng:       r.Location.Lng,
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"hotspots": hotspots})
}
