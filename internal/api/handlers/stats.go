package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/storage"
)

type StatsHandler struct {
	store *storage.PostgresStore
}

func NewStatsHandler(store *storage.PostgresStore) *StatsHandler {
	return &StatsHandler{store: store}
}

// Get serves GET /v1/groups/:id/stats over a [from,to] date range,
// restoring calculate_group_stats on
// top of the single-date GroupStats query.
func (h *StatsHandler) Get(c *gin.Context) {
	groupID := c.Param("id")
	ctx := c.Request.Context()

	from := parseDateOrDefault(c.Query("from"), time.Now())
	to := parseDateOrDefault(c.Query("to"), time.Now())
	if to.Before(from) {
		from, to = to, from
	}

	var days []storage.GroupStats
	var totalPresent, totalLate, totalAbsent, totalActive int

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		stats, err := h.store.GroupStats(ctx, groupID, date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		days = append(days, stats)
		totalPresent += stats.Present
		totalLate += stats.Late
		totalAbsent += stats.Absent
		totalActive += stats.TotalActive
	}

	rate := 0.0
	if totalActive > 0 {
		rate = float64(totalPresent) / float64(totalActive)
	}

	c.JSON(http.StatusOK, gin.H{
		"group_id": groupID,
		"from":     from.Format("2006-01-02"),
		"to":       to.Format("2006-01-02"),
		"days":     days,
		"summary": gin.H{
			"present": totalPresent,
			"late":    totalLate,
			"absent":  totalAbsent,
			"rate":    rate,
		},
	})
}

func parseDateOrDefault(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return def
	}
	return t
}
