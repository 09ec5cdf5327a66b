package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wabot/internal/usecases"
)

type blacklistRequest struct {
	WhatsappUserID string `json:"whatsapp_user_id" binding:"required"`
}

func (h *Handler) ListBlacklist(c *gin.Context) {
	claims, _ := claimsFrom(c)
	entries, err := h.svc.Blacklist.List(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) AddBlacklist(c *gin.Context) {
	claims, _ := claimsFrom(c)
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	contactID := strings.TrimSpace(req.WhatsappUserID)
	if !ValidContactID(contactID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "whatsapp_user_id must be digits only"})
		return
	}

	entry, err := h.svc.Blacklist.Add(c.Request.Context(), claims, contactID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) RemoveBlacklist(c *gin.Context) {
	claims, _ := claimsFrom(c)
	contactID := c.Param("contact")
	if !ValidContactID(contactID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	if err := h.svc.Blacklist.Remove(c.Request.Context(), claims, contactID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateSignupSession(c *gin.Context) {
	claims, _ := claimsFrom(c)
	session, err := h.svc.Onboarding.CreateEmbeddedSignupSession(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) CompleteSignup(c *gin.Context) {
	claims, _ := claimsFrom(c)
	var req usecases.CompleteSignupInput
	if err := c.ShouldBindJSON(&req); err != nil || req.State == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := h.svc.Onboarding.CompleteEmbeddedSignup(c.Request.Context(), claims, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetConnection(c *gin.Context) {
	claims, _ := claimsFrom(c)
	status, err := h.svc.Onboarding.GetStatus(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) Disconnect(c *gin.Context) {
	claims, _ := claimsFrom(c)
	status, err := h.svc.Onboarding.Disconnect(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) DevVerifyToken(c *gin.Context) {
	token, err := h.svc.Onboarding.DevVerifyToken()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verify_token": token})
}
