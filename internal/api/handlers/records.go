package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/storage"
)

type RecordHandler struct {
	store *storage.PostgresStore
}

func NewRecordHandler(store *storage.PostgresStore) *RecordHandler {
	return &RecordHandler{store: store}
}

// List serves GET /v1/records, filterable by group_id/person_id/from/to
// and paginated.
func (h *RecordHandler) List(c *gin.Context) {
	groupID := c.Query("group_id")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
		return
	}

	from := parseTimeOrDefault(c.Query("from"), time.Now().AddDate(0, 0, -7))
	to := parseTimeOrDefault(c.Query("to"), time.Now())
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	records, total, err := h.store.ListRecords(c.Request.Context(), groupID, from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if personID := c.Query("person_id"); personID != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.PersonID == personID {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
}

// Create serves POST /v1/records, the manual/back-office entry path.
// Records created here are always flagged is_manual.
func (h *RecordHandler) Create(c *gin.Context) {
	var r models.AttendanceRecord
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	r.IsManual = true

	if err := h.store.CreateRecord(c.Request.Context(), &r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func parseTimeOrDefault(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return def
	}
	return t
}
