package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wabot/internal/entities"
)

type systemPromptRequest struct {
	SystemPrompt string `json:"system_prompt" binding:"required"`
}

type controlModeRequest struct {
	ControlMode string `json:"control_mode" binding:"required"`
}

func (h *Handler) GetSystemPrompt(c *gin.Context) {
	claims, _ := claimsFrom(c)
	profile, err := h.svc.Dashboard.GetSystemPrompt(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) UpdateSystemPrompt(c *gin.Context) {
	claims, _ := claimsFrom(c)
	var req systemPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prompt := SanitizeString(req.SystemPrompt)
	if !ValidateLength(prompt, 1, MaxSystemPromptLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "system_prompt is too long"})
		return
	}

	profile, err := h.svc.Dashboard.UpdateSystemPrompt(c.Request.Context(), claims, prompt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) ListConversations(c *gin.Context) {
	claims, _ := claimsFrom(c)
	list, err := h.svc.Dashboard.ListConversations(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) ListMessages(c *gin.Context) {
	claims, _ := claimsFrom(c)
	id := c.Param("id")
	if !ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	msgs, err := h.svc.Dashboard.ListMessages(c.Request.Context(), claims, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) UpdateControlMode(c *gin.Context) {
	claims, _ := claimsFrom(c)
	id := c.Param("id")
	if !ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	var req controlModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mode, err := entities.ParseControlMode(req.ControlMode)
	if err != nil {
		respondError(c, err)
		return
	}

	conv, err := h.svc.Dashboard.UpdateControlMode(c.Request.Context(), claims, id, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
