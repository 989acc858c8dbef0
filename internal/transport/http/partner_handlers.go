package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

// PartnerLoginBody is the operator login request body.
type PartnerLoginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// PartnerLoginResponse returns the operator's API token.
type PartnerLoginResponse struct {
	Token string `json:"token"`
}

// PartnerLogin authenticates a partner operator.
// POST /api/v1/partner/login
func (h *APIHandlers) PartnerLogin(c *gin.Context) {
	var body PartnerLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	op, err := h.deps.Store.GetOperatorByEmail(c.Request.Context(), body.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error().Err(err).Msg("failed to look up operator")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err := auth.ComparePassword(op.PasswordHash, body.Password); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(h.deps.JWTConfig, op.ID, auth.RoleOperator)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate operator token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("operator_id", op.ID).Msg("operator logged in")
	c.JSON(http.StatusOK, PartnerLoginResponse{Token: token})
}

// RegisterVolunteerBody is the operator-side volunteer onboarding body.
type RegisterVolunteerBody struct {
	Name   string   `json:"name" binding:"required"`
	Phone  string   `json:"phone"`
	Skills []string `json:"skills" binding:"required"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

// RegisterVolunteerResponse returns the new volunteer and its one-time
// verification code. The code is never retrievable again.
type RegisterVolunteerResponse struct {
	VolunteerID      string `json:"volunteer_id"`
	VerificationCode string `json:"verification_code"`
}

// RegisterVolunteer onboards a volunteer on behalf of a partner organization.
// POST /api/v1/partner/volunteers
func (h *APIHandlers) RegisterVolunteer(c *gin.Context) {
	var body RegisterVolunteerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var location *geo.Point
	if body.Lat != nil && body.Lng != nil {
		location = &geo.Point{Lat: *body.Lat, Lng: *body.Lng}
	}

	v, code, err := h.deps.Registry.Register(c.Request.Context(), registry.Registration{
		Name:     body.Name,
		Phone:    body.Phone,
		Skills:   body.Skills,
		Location: location,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidName), errors.Is(err, registry.ErrInvalidSkills):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Msg("failed to register volunteer")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, RegisterVolunteerResponse{
		VolunteerID:      v.ID,
		VerificationCode: code,
	})
}

// PendingRequest is one entry of the manual-review queue.
type PendingRequest struct {
	RequestID    string  `json:"request_id"`
	Category     string  `json:"category"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	LocationText string  `json:"location_text,omitempty"`
	Content      string  `json:"content"`
	Source       string  `json:"source"`
	CreatedAt    int64   `json:"created_at"`
}

// PendingRequests lists requests no dispatch cycle could match, oldest first.
// GET /api/v1/partner/requests/pending
func (h *APIHandlers) PendingRequests(c *gin.Context) {
	reqs, err := h.deps.Store.ListPendingReview(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list pending requests")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]PendingRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, PendingRequest{
			RequestID:    r.ID,
			Category:     string(r.Category),
			Lat:          r.Location.Lat,
			Lng:          r.Location.Lng,
			LocationText: r.LocationText,
			Content:      r.Content,
			Source:       string(r.Source),
			CreatedAt:    r.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}
