package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/storage"
)

type GroupHandler struct {
	store *storage.PostgresStore
}

func NewGroupHandler(store *storage.PostgresStore) *GroupHandler {
	return &GroupHandler{store: store}
}

func (h *GroupHandler) Create(c *gin.Context) {
	var g models.Group
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.Active = true
	if err := h.store.CreateGroup(c.Request.Context(), &g); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.store.ListGroups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *GroupHandler) Get(c *gin.Context) {
	g, err := h.store.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Update(c *gin.Context) {
	var g models.Group
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.ID = c.Param("id")
	if err := h.store.UpdateGroup(c.Request.Context(), &g); err != nil {
		if errors.Is(err, storage.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteGroup(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
