package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/storage"
	"github.com/your-org/vesselwatch/pkg/dto"
)

type LocationHandler struct {
	store storage.LocationStore
}

func NewLocationHandler(store storage.LocationStore) *LocationHandler {
	return &LocationHandler{store: store}
}

func (h *LocationHandler) List(c *gin.Context) {
	locs, err := h.store.ListLocations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.LocationResponse, 0, len(locs))
	for i := range locs {
		resp = append(resp, locationToResponse(&locs[i]))
	}
	c.JSON(http.StatusOK, dto.LocationListResponse{Locations: resp, Total: len(resp)})
}

func (h *LocationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location id"})
		return
	}

	loc, err := h.store.GetLocation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}

	c.JSON(http.StatusOK, locationToResponse(loc))
}

// Update sets the name and/or coordinates of a location.
func (h *LocationHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location id"})
		return
	}

	var req dto.UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
			return
		}
		req.Name = &name
	}

	ctx := c.Request.Context()
	ok, err := h.store.UpdateLocation(ctx, id, models.LocationUpdate{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "location name already in use"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}

	loc, err := h.store.GetLocation(ctx, id)
	if err != nil || loc == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload location"})
		return
	}
	c.JSON(http.StatusOK, locationToResponse(loc))
}

// Delete removes a location that no video refers to.
func (h *LocationHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location id"})
		return
	}

	ok, err := h.store.DeleteLocation(c.Request.Context(), id)
	if errors.Is(err, storage.ErrInUse) {
		c.JSON(http.StatusConflict, gin.H{"error": "location has videos"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func locationToResponse(l *models.Location) dto.LocationResponse {
	return dto.LocationResponse{
		ID:        l.ID,
		Name:      l.Name,
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		CreatedAt: l.CreatedAt,
	}
}
