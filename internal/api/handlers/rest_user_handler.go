package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kostfinder/internal/listing"
	"kostfinder/internal/services"
	"kostfinder/internal/utils"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService services.IUserService
	store       IListingReader
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService, store IListingReader) *RestUserHandler {
	return &RestUserHandler{userService: userService, store: store}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	DateJoined      string `json:"date_joined"`
	ReviewCount     int    `json:"review_count"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		}
		return
	}

	c.JSON(http.StatusOK, PublicUser{
		ID:              user.ID.String(),
		Name:            user.Name,
		ProfileImageURL: user.ProfileImageURL,
		DateJoined:      user.CreatedAt.Format("2006-01-02"),
		ReviewCount:     len(listing.ReviewsByUser(h.store.Listings(), user.ID)),
	})
}
