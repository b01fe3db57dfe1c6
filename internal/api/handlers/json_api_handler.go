package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/auth"
	"kostfinder/internal/cache"
	"kostfinder/internal/config"
	"kostfinder/internal/email"
	"kostfinder/internal/listing"
	"kostfinder/internal/models"
	"kostfinder/internal/services"
	"kostfinder/internal/storage"
	"kostfinder/internal/tasks"
	"kostfinder/internal/utils"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the handler.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IListingReader is the read side of the live listing mirror.
type IListingReader interface {
	Listings() []models.Listing
	Views() listing.Views
	GetByID(ctx context.Context, id utils.SixID) *models.Listing
	Observe() (<-chan listing.Update, func())
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg            *config.Config
	logger         *logrus.Logger
	taskClient     IAsynqClient
	userService    services.IUserService
	listingService services.IListingService
	store          IListingReader
	imageStore     storage.IImageStore
	recent         cache.IRecentlyViewed
	denyList       auth.ITokenDenyList
	events         auth.IEventPublisher
	methods        map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	logger *logrus.Logger,
	taskClient IAsynqClient,
	userService services.IUserService,
	listingService services.IListingService,
	store IListingReader,
	imageStore storage.IImageStore,
	recent cache.IRecentlyViewed,
	denyList auth.ITokenDenyList,
	events auth.IEventPublisher,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:            cfg,
		logger:         logger,
		taskClient:     taskClient,
		userService:    userService,
		listingService: listingService,
		store:          store,
		imageStore:     imageStore,
		recent:         recent,
		denyList:       denyList,
		events:         events,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":               h.ping,
		"register":           h.register,
		"signIn":             h.signIn,
		"signOut":            h.signOut,
		"me":                 h.me,
		"updateProfile":      h.updateProfile,
		"updateProfileImage": h.updateProfileImage,
		"toggleFavorite":     h.toggleFavorite,
		"listFavorites":      h.listFavorites,
		"bookListing":        h.bookListing,
		"cancelBooking":      h.cancelBooking,
		"listBookings":       h.listBookings,
		"myReviews":          h.myReviews,
		"addReview":          h.addReview,
		"addRecentlyViewed":  h.addRecentlyViewed,
		"listRecentlyViewed": h.listRecentlyViewed,
		"getUploadURL":       h.getUploadURL,
		"confirmImageUpload": h.confirmImageUpload,
		"createListing":      h.createListing,
		"replaceListing":     h.replaceListing,
		"patchListing":       h.patchListing,
		"deleteListing":      h.deleteListing,
		"replyToReview":      h.replyToReview,
		"toggleBookedBy":     h.toggleBookedBy,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID    *utils.SixID // nil for guests
	IsAdmin   bool
	TokenID   string
	ExpiresAt time.Time
}

func authResultFromClaims(claims *auth.Claims) (*AuthResult, error) {
	userID, err := utils.ParseSixID(claims.UserID)
	if err != nil {
		return nil, err
	}
	res := &AuthResult{UserID: &userID, IsAdmin: claims.IsAdmin(), TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)
	ctx := c.Request.Context()
	log := h.logger.WithField("method", method)

	if !needsAuth && !needsAdmin {
		// Public method; an optional valid token still identifies the caller.
		authRes := &AuthResult{}
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			claims, err := auth.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "), h.cfg.JwtSecret)
			if err == nil && !h.isRevoked(ctx, claims.ID) {
				if res, idErr := authResultFromClaims(claims); idErr == nil {
					authRes = res
				}
			} else if err != nil {
				log.WithError(err).Debug("Invalid optional auth token, proceeding as guest")
			}
		}
		c.Request = c.Request.WithContext(context.WithValue(ctx, authResultKey, authRes))
		return nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
	if err != nil {
		log.WithError(err).Debug("Token validation failed")
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}
	if h.isRevoked(ctx, claims.ID) {
		return NewApiError("Token has been revoked")
	}

	authRes, err := authResultFromClaims(claims)
	if err != nil {
		log.WithField("user_id", claims.UserID).Error("Invalid user id in valid JWT")
		return NewApiError("Internal error")
	}

	if needsAdmin && !authRes.IsAdmin {
		log.WithField("user_id", claims.UserID).Debug("Admin privileges required but not present")
		return NewApiError("Administrator privileges required")
	}

	c.Request = c.Request.WithContext(context.WithValue(ctx, authResultKey, authRes))
	return nil
}

// isRevoked treats a failing deny-list as "not revoked" and logs it.
func (h *JsonApiHandler) isRevoked(ctx context.Context, tokenID string) bool {
	if h.denyList == nil || tokenID == "" {
		return false
	}
	denied, err := h.denyList.IsDenied(ctx, tokenID)
	if err != nil {
		h.logger.WithError(err).Warn("Token deny-list lookup failed")
		return false
	}
	return denied
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	case "signOut",
		"me",
		"updateProfile",
		"updateProfileImage",
		"toggleFavorite",
		"listFavorites",
		"bookListing",
		"cancelBooking",
		"listBookings",
		"myReviews",
		"addReview",
		"getUploadURL",
		"confirmImageUpload":
		return true

	case "ping",
		"register",
		"signIn",
		"addRecentlyViewed",
		"listRecentlyViewed":
		return false

	default:
		// admin methods are covered by methodRequiresAdmin
		return h.methodRequiresAdmin(method)
	}
}

// methodRequiresAdmin checks if a given API method requires admin privileges.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "createListing",
		"replaceListing",
		"patchListing",
		"deleteListing",
		"replyToReview",
		"toggleBookedBy":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	resp := JsonApiResponse{Success: false, Error: message}
	c.JSON(http.StatusOK, resp)
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// serviceError turns a service error into the message the client sees.
// Known domain errors pass through; anything else is logged and hidden.
func (h *JsonApiHandler) serviceError(err error, action string) *ApiError {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrListingNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrReviewNotFound),
		errors.Is(err, services.ErrBookingNotFound),
		errors.Is(err, services.ErrEmailExists),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrNothingToUpdate):
		return NewApiError(err.Error())
	}
	h.logger.WithError(err).Errorf("Failed to %s", action)
	return NewApiError(fmt.Sprintf("Failed to %s", action))
}

// requireUser returns the caller's id; methodRequiresAuth guarantees it is set.
func requireUser(c *gin.Context) (utils.SixID, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return utils.SixID{}, NewApiError("Authentication required")
	}
	return *authInfo.UserID, nil
}

// enqueueEmail schedules a templated email. Failures are logged only.
func (h *JsonApiHandler) enqueueEmail(ctx context.Context, to, templateID string, data map[string]interface{}) {
	task, err := tasks.NewEmailDeliveryTask(tasks.EmailTaskPayload{To: to, TemplateID: templateID, Data: data})
	if err == nil {
		_, err = h.taskClient.EnqueueContext(ctx, task)
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{"to": to, "template": templateID}).Error("Failed to enqueue email")
	}
}

func (h *JsonApiHandler) publishAuthEvent(ctx context.Context, eventType string, userID utils.SixID) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, eventType, userID.String()); err != nil {
		h.logger.WithError(err).WithField("event", eventType).Warn("Failed to publish auth event")
	}
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		// err.Error() may leak internals, keep it generic
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// parseIDArg reads a single id argument such as ["0Q3W8ZK4MN5A"].
func (h *JsonApiHandler) parseIDArg(args json.RawMessage, name string) (utils.SixID, *ApiError) {
	var raw string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &raw); apiErr != nil {
		return utils.SixID{}, apiErr
	}
	id, err := utils.ParseSixID(strings.TrimSpace(raw))
	if err != nil {
		return utils.SixID{}, NewApiError(fmt.Sprintf("Invalid %s format", name))
	}
	return id, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

type RegisterArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type SignInArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and signIn.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *JsonApiHandler) issueToken(user *models.User) (*AuthResponse, *ApiError) {
	token, claims, err := auth.GenerateJWT(user.ID, user.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID.String()).Error("Failed to generate JWT")
		return nil, NewApiError("Failed to generate session token")
	}
	return &AuthResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

// register creates an account and signs it in. Only an admin may create
// another admin.
func (h *JsonApiHandler) register(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RegisterArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	role := models.RoleUser
	if reqArgs.Role == models.RoleAdmin {
		authInfo, _ := getAuthFromContext(c.Request.Context())
		if authInfo == nil || !authInfo.IsAdmin {
			return nil, NewApiError("Administrator privileges required")
		}
		role = models.RoleAdmin
	}

	ctx := c.Request.Context()
	user, err := h.userService.Register(ctx, reqArgs.Name, reqArgs.Email, reqArgs.Password, role)
	if err != nil {
		return nil, h.serviceError(err, "register")
	}

	resp, apiErr := h.issueToken(user)
	if apiErr != nil {
		return nil, apiErr
	}
	h.publishAuthEvent(ctx, auth.EventRegistered, user.ID)
	h.enqueueEmail(ctx, user.Email, email.TemplateWelcome, map[string]interface{}{"Name": user.Name})
	return resp, nil
}

func (h *JsonApiHandler) signIn(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SignInArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	user, err := h.userService.Authenticate(ctx, reqArgs.Email, reqArgs.Password)
	if err != nil {
		return nil, h.serviceError(err, "sign in")
	}

	resp, apiErr := h.issueToken(user)
	if apiErr != nil {
		return nil, apiErr
	}
	h.publishAuthEvent(ctx, auth.EventSignedIn, user.ID)
	h.logger.WithField("user_id", user.ID.String()).Info("User signed in")
	return resp, nil
}

// signOut revokes the token the request was made with.
func (h *JsonApiHandler) signOut(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	ctx := c.Request.Context()
	authInfo, ok := getAuthFromContext(ctx)
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	if h.denyList != nil && authInfo.TokenID != "" {
		if err := h.denyList.Deny(ctx, authInfo.TokenID, authInfo.ExpiresAt); err != nil {
			h.logger.WithError(err).Error("Failed to revoke token")
			return nil, NewApiError("Failed to sign out")
		}
	}
	h.publishAuthEvent(ctx, auth.EventSignedOut, *authInfo.UserID)
	return true, nil
}

func (h *JsonApiHandler) me(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		return nil, h.serviceError(err, "load profile")
	}
	return user, nil
}

type UpdateProfileArgs struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *JsonApiHandler) updateProfile(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs UpdateProfileArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, reqArgs.Name, reqArgs.Email)
	if err != nil {
		return nil, h.serviceError(err, "update profile")
	}
	return user, nil
}

// updateProfileImage takes the URL returned by POST /v1/upload or getUploadURL.
func (h *JsonApiHandler) updateProfileImage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var url string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &url); apiErr != nil {
		return nil, apiErr
	}
	if err := h.userService.UpdateProfileImage(c.Request.Context(), userID, url); err != nil {
		return nil, h.serviceError(err, "update profile image")
	}
	return true, nil
}

type GetUploadURLArgs struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// getUploadURL hands out a presigned PUT URL. Only the S3 provider supports
// direct uploads; with GridFS clients use POST /v1/upload.
func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs GetUploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Filename == "" || reqArgs.ContentType == "" {
		return nil, NewApiError("Missing required arguments (filename, content_type)")
	}
	if !strings.HasPrefix(reqArgs.ContentType, "image/") {
		return nil, NewApiError("Only image uploads are allowed")
	}

	s3, ok := h.imageStore.(storage.IS3Storage)
	if !ok {
		return nil, NewApiError("Direct uploads are not supported, use /v1/upload")
	}

	ctx := c.Request.Context()
	result, uploadURL, err := s3.GeneratePresignedPutURL(ctx, userID.String(), reqArgs.Filename, reqArgs.ContentType)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID.String()).Error("Failed to generate presigned URL")
		return nil, NewApiError("Failed to generate upload URL")
	}
	return gin.H{
		"upload_url": uploadURL,
		"url":        result.URL,
		"key":        result.Key,
	}, nil
}
