package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/service"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/response"
)

// InvitationHandler exposes invitation management and the public acceptance
// endpoint.
type InvitationHandler struct {
	invitations *service.InvitationService
}

// NewInvitationHandler constructs InvitationHandler.
func NewInvitationHandler(invitations *service.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// List godoc
// @Summary List invitations
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param email query string false "Filter by email"
// @Param userType query string false "Filter by user type"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /invitations [get]
func (h *InvitationHandler) List(c *gin.Context) {
	var filter models.InvitationFilter
	filter.Email = c.Query("email")
	filter.UserType = models.UserType(strings.ToUpper(c.Query("userType")))
	filter.Status = models.InvitationStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	invitations, pagination, err := h.invitations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invitations, pagination)
}

// Create godoc
// @Summary Issue an invitation
// @Tags Invitations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateInvitationRequest true "Invitation payload"
// @Success 201 {object} response.Envelope
// @Router /invitations [post]
func (h *InvitationHandler) Create(c *gin.Context) {
	var req service.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil {
		req.InvitedBy = claims.UserID
	}

	invitation, err := h.invitations.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invitation)
}

// Resend godoc
// @Summary Resend a pending invitation with a fresh token
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invitation ID"
// @Success 200 {object} response.Envelope
// @Router /invitations/{id}/resend [post]
func (h *InvitationHandler) Resend(c *gin.Context) {
	invitation, err := h.invitations.Resend(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invitation, nil)
}

// Cancel godoc
// @Summary Cancel a pending invitation
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invitation ID"
// @Success 204 "No Content"
// @Router /invitations/{id} [delete]
func (h *InvitationHandler) Cancel(c *gin.Context) {
	if err := h.invitations.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Accept godoc
// @Summary Redeem an invitation token
// @Description Public endpoint completing the invited user's onboarding.
// @Tags Invitations
// @Accept json
// @Produce json
// @Param payload body service.AcceptInvitationRequest true "Acceptance payload"
// @Success 200 {object} response.Envelope
// @Router /invitations/accept [post]
func (h *InvitationHandler) Accept(c *gin.Context) {
	var req service.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.invitations.Accept(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
