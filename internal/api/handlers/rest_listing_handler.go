package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/listing"
	"kostfinder/internal/utils"
)

// RestListingHandler serves listing reads straight from the live mirror.
type RestListingHandler struct {
	store      IListingReader
	cheapLimit int64
	logger     *logrus.Logger
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(store IListingReader, cheapLimit int64, logger *logrus.Logger) *RestListingHandler {
	return &RestListingHandler{store: store, cheapLimit: cheapLimit, logger: logger}
}

// SearchListings handles GET /v1/listing.
// Query: q, location, category (repeatable), ids (comma-separated).
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	var criteria listing.Criteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	criteria.CheapLimit = h.cheapLimit

	listings := h.store.Listings()
	if idsStr := c.Query("ids"); idsStr != "" {
		var raw []string
		for _, s := range strings.Split(idsStr, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				raw = append(raw, trimmed)
			}
		}
		ids, err := utils.ParseSixIDs(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format in ids"})
			return
		}
		listings = listing.FilterByIDs(listings, ids)
	}

	c.JSON(http.StatusOK, listing.Filter(listings, criteria))
}

// GetViews handles GET /v1/listing/views.
func (h *RestListingHandler) GetViews(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Views())
}

// GetFilterOptions handles GET /v1/listing/filters.
func (h *RestListingHandler) GetFilterOptions(c *gin.Context) {
	c.JSON(http.StatusOK, listing.FilterOptions(h.cheapLimit))
}

// GetListingByID handles GET /v1/listing/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	l := h.store.GetByID(c.Request.Context(), listingID)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

// StreamListings handles GET /v1/listing/stream as server-sent events.
// The first event carries the current views; each later one follows a snapshot.
func (h *RestListingHandler) StreamListings(c *gin.Context) {
	updates, cancel := h.store.Observe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	h.logger.WithField("client", c.ClientIP()).Debug("Listing stream opened")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.WithField("client", c.ClientIP()).Debug("Listing stream closed")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("listings", u)
			c.Writer.Flush()
		}
	}
}
