package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/attendance"
)

// EventHandler exposes the attendance state machine directly over HTTP,
// for manual or external event submission alongside the live WS path.
type EventHandler struct {
	sm *attendance.StateMachine
}

func NewEventHandler(sm *attendance.StateMachine) *EventHandler {
	return &EventHandler{sm: sm}
}

type eventRequest struct {
	PersonID   string    `json:"person_id"`
	GroupID    string    `json:"group_id"`
	Confidence float32   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *EventHandler) Create(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PersonID == "" || req.GroupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "person_id and group_id are required"})
		return
	}

	outcome, err := h.sm.ProcessEvent(c.Request.Context(), req.PersonID, req.GroupID, req.Confidence, req.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, attendance.ErrMemberNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		case errors.Is(err, attendance.ErrGroupNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	resp := gin.H{"processed": outcome.Processed()}
	if outcome.Processed() {
		resp["id"] = outcome.RecordID
	} else {
		resp["error"] = outcome.Reason
		resp["remaining_seconds"] = outcome.RemainingSeconds
		if outcome.Source != "" {
			resp["source"] = outcome.Source
		}
	}
	c.JSON(http.StatusOK, resp)
}
