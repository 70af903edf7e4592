package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriai/attendengine/internal/imaging"
	"github.com/suriai/attendengine/internal/storage"
	"github.com/suriai/attendengine/internal/vision"
)

type GalleryHandler struct {
	store     *storage.PostgresStore
	enroller  *vision.Enroller
	gallery   *vision.IdentityGallery
	snapshots *storage.MinIOStore
}

// NewGalleryHandler constructs a GalleryHandler. snapshots may be nil, in
// which case enrollment photos are embedded but not archived.
func NewGalleryHandler(store *storage.PostgresStore, enroller *vision.Enroller, gallery *vision.IdentityGallery, snapshots *storage.MinIOStore) *GalleryHandler {
	return &GalleryHandler{store: store, enroller: enroller, gallery: gallery, snapshots: snapshots}
}

// snapshotKey returns the object-storage key an enrollment photo is
// archived under for personID.
func snapshotKey(personID string) string {
	return "gallery/" + personID + ".jpg"
}

// archiveEnrollmentPhoto best-effort uploads the raw (still-encoded)
// enrollment image to object storage, keyed by person_id, so it can be
// served back as a signed URL. Failure here does not fail registration:
// the embedding is already written and is the source of truth for
// recognition.
func (h *GalleryHandler) archiveEnrollmentPhoto(c *gin.Context, personID, imageB64 string) {
	if h.snapshots == nil {
		return
	}
	raw, err := imaging.DecodeBase64Bytes(imageB64)
	if err != nil {
		return
	}
	if err := h.snapshots.PutObject(c.Request.Context(), snapshotKey(personID), raw, "image/jpeg"); err != nil {
		slog.Warn("archive enrollment photo", "person_id", personID, "error", err)
	}
}

type registerRequest struct {
	PersonID string `json:"person_id"`
	Image    string `json:"image"`
}

// Register serves POST /v1/gallery/register.
func (h *GalleryHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PersonID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "person_id is required"})
		return
	}

	embedding, confidence, err := h.embedOne(req.Image)
	if err != nil {
		h.respondEmbedError(c, err)
		return
	}

	if err := h.store.AddFace(c.Request.Context(), req.PersonID, embedding); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.gallery.Invalidate()
	h.archiveEnrollmentPhoto(c, req.PersonID, req.Image)

	c.JSON(http.StatusOK, gin.H{"person_id": req.PersonID, "confidence": confidence})
}

// Photo serves GET /v1/gallery/:person_id/photo: a time-limited signed
// URL for the archived enrollment photo.
func (h *GalleryHandler) Photo(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot storage not configured"})
		return
	}
	personID := c.Param("person_id")
	url, err := h.snapshots.PresignedSnapshotURL(c.Request.Context(), snapshotKey(personID), 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no archived photo for this person"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// BulkRegister serves the supplemented bulk_register feature:
// the same per-item register path, run over a batch.
func (h *GalleryHandler) BulkRegister(c *gin.Context) {
	var req struct {
		Items []registerRequest `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	type itemResult struct {
		PersonID string  `json:"person_id"`
		OK       bool    `json:"ok"`
		Error    string  `json:"error,omitempty"`
		Confidence float32 `json:"confidence,omitempty"`
	}
	results := make([]itemResult, 0, len(req.Items))

	for _, item := range req.Items {
		if item.PersonID == "" {
			results = append(results, itemResult{OK: false, Error: "person_id is required"})
			continue
		}
		embedding, confidence, err := h.embedOne(item.Image)
		if err != nil {
			results = append(results, itemResult{PersonID: item.PersonID, OK: false, Error: err.Error()})
			continue
		}
		if err := h.store.AddFace(c.Request.Context(), item.PersonID, embedding); err != nil {
			results = append(results, itemResult{PersonID: item.PersonID, OK: false, Error: err.Error()})
			continue
		}
		h.archiveEnrollmentPhoto(c, item.PersonID, item.Image)
		results = append(results, itemResult{PersonID: item.PersonID, OK: true, Confidence: confidence})
	}
	h.gallery.Invalidate()

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// BulkDetect serves the supplemented bulk_detect_faces_in_images feature
// detection+embedding over a batch of still images without writing to
// the gallery, for pre-populating enrollment tooling.
func (h *GalleryHandler) BulkDetect(c *gin.Context) {
	var req struct {
		Images []string `json:"images"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	type detectResult struct {
		Index      int     `json:"index"`
		OK         bool    `json:"ok"`
		Error      string  `json:"error,omitempty"`
		Confidence float32 `json:"confidence,omitempty"`
	}
	results := make([]detectResult, 0, len(req.Images))
	for i, imgStr := range req.Images {
		_, confidence, err := h.embedOne(imgStr)
		if err != nil {
			results = append(results, detectResult{Index: i, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, detectResult{Index: i, OK: true, Confidence: confidence})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *GalleryHandler) Remove(c *gin.Context) {
	personID := c.Param("person_id")
	if err := h.store.RemoveFace(c.Request.Context(), personID); err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "gallery entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.gallery.Invalidate()
	c.Status(http.StatusNoContent)
}

func (h *GalleryHandler) Rename(c *gin.Context) {
	var req struct {
		NewPersonID string `json:"new_person_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	oldPersonID := c.Param("person_id")
	if err := h.store.RenameFace(c.Request.Context(), oldPersonID, req.NewPersonID); err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "gallery entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.gallery.Invalidate()
	c.JSON(http.StatusOK, gin.H{"person_id": req.NewPersonID})
}

func (h *GalleryHandler) Clear(c *gin.Context) {
	if err := h.store.ClearFaces(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.gallery.Invalidate()
	c.Status(http.StatusNoContent)
}

func (h *GalleryHandler) embedOne(imageB64 string) ([]float32, float32, error) {
	img, err := imaging.DecodeBase64(imageB64)
	if err != nil {
		return nil, 0, err
	}
	return h.enroller.EmbedSingleFace(img)
}

func (h *GalleryHandler) respondEmbedError(c *gin.Context, err error) {
	if errors.Is(err, vision.ErrNoFaceFound) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
