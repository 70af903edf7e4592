package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/attendance"
	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/storage"
)

type SessionHandler struct {
	store *storage.PostgresStore
}

func NewSessionHandler(store *storage.PostgresStore) *SessionHandler {
	return &SessionHandler{store: store}
}

// List serves GET /v1/sessions: sessions are always derived on demand by
// recomputing from the day's records rather than trusted wholesale from
// storage.
func (h *SessionHandler) List(c *gin.Context) {
	groupID := c.Query("group_id")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
		return
	}
	date := c.Query("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	ctx := c.Request.Context()

	group, err := h.store.GetGroup(ctx, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	members, err := h.store.ListMembers(ctx, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	records, _, err := h.store.ListRecords(ctx, groupID, day, day.Add(24*time.Hour), 100000, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	existingList, err := h.store.ListSessions(ctx, groupID, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	existing := make(map[string]models.Session, len(existingList))
	for _, s := range existingList {
		existing[s.PersonID] = s
	}

	sessions := attendance.RecomputeSessions(*group, members, records, existing, date)
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
