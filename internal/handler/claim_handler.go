package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/service"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/response"
)

// ClaimHandler exposes the registrar claim workflow.
type ClaimHandler struct {
	claims *service.ClaimService
}

// NewClaimHandler constructs ClaimHandler.
func NewClaimHandler(claims *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{claims: claims}
}

type claimRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// Claim godoc
// @Summary Claim a student for the active session
// @Tags Claims
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body claimRequest true "Claim payload"
// @Success 201 {object} response.Envelope
// @Router /claims [post]
func (h *ClaimHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	var role models.UserRole
	if claims := claimsFromContext(c); claims != nil {
		role = claims.Role
	}
	claim, err := h.claims.Claim(c.Request.Context(), callerProfileID(c), req.StudentID, role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, claim)
}

// ListMine godoc
// @Summary List the caller's claims in the active session
// @Tags Claims
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /claims [get]
func (h *ClaimHandler) ListMine(c *gin.Context) {
	claims, err := h.claims.ListMine(c.Request.Context(), callerProfileID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claims, nil)
}
