package handlers_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kostfinder/internal/api/handlers"
	"kostfinder/internal/models"
	"kostfinder/internal/services"
	"kostfinder/internal/utils"
)

func setupUserRouter(userSvc *MockUserService, store handlers.IListingReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewRestUserHandler(userSvc, store)
	r := gin.New()
	r.GET("/v1/user/:id", handler.GetUserByID)
	return r
}

func TestRestUserHandler_GetUserByID_Success(t *testing.T) {
	userID := utils.NewSixID()
	reviewed := testListing("Kost Melati")
	reviewed.Reviews = []models.Review{
		{ID: utils.NewSixID(), ReviewerID: userID, ReviewerName: "Putu", Rating: 5},
		{ID: utils.NewSixID(), ReviewerID: utils.NewSixID(), ReviewerName: "Kadek", Rating: 3},
	}
	other := testListing("Kost Mawar")
	other.Reviews = []models.Review{{ID: utils.NewSixID(), ReviewerID: userID, ReviewerName: "Putu", Rating: 4}}

	mockUserSvc := new(MockUserService)
	user := testUser(userID, "Putu", "putu@example.com")
	user.ProfileImageURL = "https://img.example.com/putu.jpg"
	user.CreatedAt = time.Date(2023, 8, 17, 9, 30, 0, 0, time.UTC)
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(user, nil)

	r := setupUserRouter(mockUserSvc, newFakeListingReader(reviewed, other))

	var got handlers.PublicUser
	require.Equal(t, http.StatusOK, getJSON(t, r, "/v1/user/"+userID.String(), &got))
	assert.Equal(t, userID.String(), got.ID)
	assert.Equal(t, "Putu", got.Name)
	assert.Equal(t, "https://img.example.com/putu.jpg", got.ProfileImageURL)
	assert.Equal(t, "2023-08-17", got.DateJoined)
	assert.Equal(t, 2, got.ReviewCount)
	mockUserSvc.AssertExpectations(t)
}

func TestRestUserHandler_GetUserByID_NotFound(t *testing.T) {
	userID := utils.NewSixID()
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(nil, services.ErrUserNotFound)

	r := setupUserRouter(mockUserSvc, newFakeListingReader())
	assert.Equal(t, http.StatusNotFound, getJSON(t, r, "/v1/user/"+userID.String(), nil))
	mockUserSvc.AssertExpectations(t)
}

func TestRestUserHandler_GetUserByID_InvalidID(t *testing.T) {
	mockUserSvc := new(MockUserService)
	r := setupUserRouter(mockUserSvc, newFakeListingReader())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, r, "/v1/user/invalid-id-format", nil))
	mockUserSvc.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestRestUserHandler_GetUserByID_ServiceError(t *testing.T) {
	userID := utils.NewSixID()
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(nil, errors.New("server selection timeout"))

	r := setupUserRouter(mockUserSvc, newFakeListingReader())
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, r, "/v1/user/"+userID.String(), nil))
}
