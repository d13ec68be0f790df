package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/everlore/recall/server/memory"
)

// CollectionInfoResponse describes one entity's collection.
type CollectionInfoResponse struct {
	Collection  string `json:"collection"`
	PointCount  int    `json:"point_count"`
	VectorCount int    `json:"vector_count"`
	Dimensions  int    `json:"dimensions"`
}

// GetCollectionInfo returns statistics for the entity's collection.
// GET /api/v1/collections/:entity
func (s *APIV1Service) GetCollectionInfo(c echo.Context) error {
	entity := c.Param("entity")
	info := s.Memory.CollectionInfo(c.Request().Context(), entity)
	if info == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "collection not found"})
	}

	snap := s.Settings.Get()
	return c.JSON(http.StatusOK, CollectionInfoResponse{
		Collection:  memory.ResolveCollection(snap.BaseCollection, snap.PerEntity, entity),
		PointCount:  info.PointCount,
		VectorCount: info.VectorCount,
		Dimensions:  info.Dimensions,
	})
}

// DeleteCollection irreversibly deletes the entity's collection and
// every memory in it.
// DELETE /api/v1/collections/:entity
func (s *APIV1Service) DeleteCollection(c echo.Context) error {
	entity := c.Param("entity")
	if !s.Memory.PurgeEntity(c.Request().Context(), entity) {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to delete collection"})
	}
	return c.NoContent(http.StatusNoContent)
}
