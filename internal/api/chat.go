package api

import (
	"net/http"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

func (h *Handler) setupChatRoutes(chat *gin.RouterGroup) {
	chat.POST("/sessions", h.openSession)
	chat.GET("/sessions", h.getSessions)
	chat.GET("/sessions/:id", h.getSession)
	chat.GET("/sessions/:id/messages", h.getMessages)
	chat.POST("/sessions/:id/messages", h.sendMessage)
	chat.POST("/sessions/:id/read", h.markRead)
	chat.POST("/sessions/:id/close", h.closeSession)
	chat.POST("/sessions/:id/assistant", h.askAssistant)
	chat.GET("/users/:id/session", h.getActiveSession)
	if h.svc.Inbox != nil {
		chat.GET("/inbox", h.getInbox)
	}
}

type openSessionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	UserName string `json:"user_name"`
}

func (h *Handler) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.svc.Chat.CreateOrGetSession(c.Request.Context(), req.UserID, req.UserName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getSessions(c *gin.Context) {
	sessions, err := h.svc.Chat.GetSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.svc.Chat.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getActiveSession(c *gin.Context) {
	session, err := h.svc.Chat.ActiveSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getMessages(c *gin.Context) {
	msgs, err := h.svc.Chat.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Text   string        `json:"text"`
	Sender models.Sender `json:"sender" binding:"required"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	msg, err := h.svc.Chat.SendMessage(c.Request.Context(), c.Param("id"), req.Text, req.Sender)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type markReadRequest struct {
	Reader models.Sender `json:"reader" binding:"required"`
}

func (h *Handler) markRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.svc.Chat.MarkSessionRead(c.Request.Context(), c.Param("id"), req.Reader)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) closeSession(c *gin.Context) {
	session, err := h.svc.Chat.CloseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

func (h *Handler) askAssistant(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	msg, err := h.svc.Chat.AskAssistant(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) getInbox(c *gin.Context) {
	snap := h.svc.Inbox.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessions":     snap.Sessions,
		"total_unread": snap.TotalUnread,
		"refreshed_at": snap.RefreshedAt,
	})
}
