package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/storage"
)

type MemberHandler struct {
	store *storage.PostgresStore
}

func NewMemberHandler(store *storage.PostgresStore) *MemberHandler {
	return &MemberHandler{store: store}
}

func (h *MemberHandler) Create(c *gin.Context) {
	var m models.Member
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.GroupID = c.Param("id")
	m.Active = true
	if err := h.store.CreateMember(c.Request.Context(), &m); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *MemberHandler) List(c *gin.Context) {
	members, err := h.store.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *MemberHandler) Get(c *gin.Context) {
	m, err := h.store.GetMember(c.Request.Context(), c.Param("person_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil || m.GroupID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MemberHandler) Update(c *gin.Context) {
	var m models.Member
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.PersonID = c.Param("person_id")
	m.GroupID = c.Param("id")
	if err := h.store.UpdateMember(c.Request.Context(), &m); err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MemberHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteMember(c.Request.Context(), c.Param("person_id")); err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
