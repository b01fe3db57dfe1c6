package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/email"
	"kostfinder/internal/listing"
	"kostfinder/internal/models"
	"kostfinder/internal/tasks"
	"kostfinder/internal/utils"
)

const bookingTimeLayout = "2 Jan 2006 15:04 MST"

func (h *JsonApiHandler) toggleFavorite(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	listingID, apiErr := h.parseIDArg(args, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	favorite, err := h.userService.ToggleFavorite(c.Request.Context(), userID, listingID)
	if err != nil {
		return nil, h.serviceError(err, "toggle favourite")
	}
	return gin.H{"favorite": favorite}, nil
}

// listFavorites resolves the user's favourite ids against the live mirror.
// Ids of deleted listings are skipped.
func (h *JsonApiHandler) listFavorites(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		return nil, h.serviceError(err, "load favourites")
	}
	return listing.FilterByIDs(h.store.Listings(), user.FavoriteListingIDs), nil
}

func (h *JsonApiHandler) bookListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	listingID, apiErr := h.parseIDArg(args, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	booking, err := h.userService.BookListing(ctx, userID, listingID)
	if err != nil {
		return nil, h.serviceError(err, "book listing")
	}
	h.notifyBooking(ctx, userID, email.TemplateBookingConfirmed, booking)
	return booking, nil
}

func (h *JsonApiHandler) cancelBooking(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	bookingID, apiErr := h.parseIDArg(args, "booking_id")
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	booking, err := h.userService.CancelBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, h.serviceError(err, "cancel booking")
	}
	h.notifyBooking(ctx, userID, email.TemplateBookingCancelled, booking)
	return booking, nil
}

// notifyBooking emails the user about a booking change. The booking itself
// is already committed, so lookup failures are only logged.
func (h *JsonApiHandler) notifyBooking(ctx context.Context, userID utils.SixID, templateID string, booking *models.Booking) {
	user, err := h.userService.FindByID(ctx, userID)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID.String(),
			"booking_id": booking.ID.String(),
		}).Warn("Skipping booking email, user lookup failed")
		return
	}
	h.enqueueEmail(ctx, user.Email, templateID, map[string]interface{}{
		"Name":         user.Name,
		"ListingName":  booking.ListingName,
		"ListingPrice": booking.ListingPrice,
		"BookedAt":     booking.BookedAt.Format(bookingTimeLayout),
		"BookingID":    booking.ID.String(),
	})
}

func (h *JsonApiHandler) listBookings(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	bookings, err := h.userService.ListBookings(c.Request.Context(), userID)
	if err != nil {
		return nil, h.serviceError(err, "list bookings")
	}
	return bookings, nil
}

func (h *JsonApiHandler) myReviews(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	return listing.ReviewsByUser(h.store.Listings(), userID), nil
}

type AddReviewArgs struct {
	ListingID utils.SixID `json:"listing_id"`
	Rating    float64     `json:"rating"`
	Comment   string      `json:"comment"`
}

// addReview signs the review with the caller's id and current display name.
func (h *JsonApiHandler) addReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs AddReviewArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ListingID.IsZero() {
		return nil, NewApiError("Missing listing_id")
	}

	ctx := c.Request.Context()
	user, err := h.userService.FindByID(ctx, userID)
	if err != nil {
		return nil, h.serviceError(err, "add review")
	}
	review, err := h.listingService.AppendReview(ctx, reqArgs.ListingID, models.Review{
		ReviewerID:   userID,
		ReviewerName: user.Name,
		Rating:       reqArgs.Rating,
		Comment:      reqArgs.Comment,
	})
	if err != nil {
		return nil, h.serviceError(err, "add review")
	}
	return review, nil
}

type RecentlyViewedArgs struct {
	DeviceID  string      `json:"device_id"`
	ListingID utils.SixID `json:"listing_id"`
}

func (h *JsonApiHandler) addRecentlyViewed(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RecentlyViewedArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	deviceID := strings.TrimSpace(reqArgs.DeviceID)
	if deviceID == "" || reqArgs.ListingID.IsZero() {
		return nil, NewApiError("Missing required arguments (device_id, listing_id)")
	}
	ids, err := h.recent.Add(c.Request.Context(), deviceID, reqArgs.ListingID)
	if err != nil {
		return nil, h.serviceError(err, "record recently viewed")
	}
	return ids, nil
}

// listRecentlyViewed returns the device's history as listings, newest first.
func (h *JsonApiHandler) listRecentlyViewed(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var deviceID string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &deviceID); apiErr != nil {
		return nil, apiErr
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, NewApiError("Missing device_id")
	}
	ids, err := h.recent.List(c.Request.Context(), deviceID)
	if err != nil {
		return nil, h.serviceError(err, "load recently viewed")
	}
	return listing.FilterByIDs(h.store.Listings(), ids), nil
}

// confirmImageUpload schedules normalisation of an image the client PUT to a
// presigned URL.
func (h *JsonApiHandler) confirmImageUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	userID, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var key string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &key); apiErr != nil {
		return nil, apiErr
	}
	// presigned keys are namespaced by uploader
	if !strings.HasPrefix(key, "uploads/"+userID.String()+"/") {
		return nil, NewApiError("Invalid object key")
	}

	task, err := tasks.NewImageProcessTask(key)
	if err != nil {
		return nil, h.serviceError(err, "schedule image processing")
	}
	info, err := h.taskClient.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		return nil, h.serviceError(err, "schedule image processing")
	}
	h.logger.WithFields(logrus.Fields{"key": key, "task_id": info.ID}).Info("Image processing scheduled")
	return gin.H{"task_id": info.ID}, nil
}

// --- Admin methods ---

func (h *JsonApiHandler) createListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	l := models.NewListing()
	if apiErr := h.parseRequiredSingleArgFromArray(args, l); apiErr != nil {
		return nil, apiErr
	}
	created, err := h.listingService.CreateListing(c.Request.Context(), l)
	if err != nil {
		return nil, h.serviceError(err, "create listing")
	}
	return created, nil
}

type ReplaceListingArgs struct {
	ListingID utils.SixID    `json:"listing_id"`
	Listing   models.Listing `json:"listing"`
}

// replaceListing overwrites every field; omitted ones are reset.
func (h *JsonApiHandler) replaceListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ReplaceListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ListingID.IsZero() {
		return nil, NewApiError("Missing listing_id")
	}
	replaced, err := h.listingService.ReplaceListing(c.Request.Context(), reqArgs.ListingID, &reqArgs.Listing)
	if err != nil {
		return nil, h.serviceError(err, "replace listing")
	}
	return replaced, nil
}

type PatchListingArgs struct {
	ListingID utils.SixID         `json:"listing_id"`
	Patch     models.ListingPatch `json:"patch"`
}

func (h *JsonApiHandler) patchListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs PatchListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ListingID.IsZero() {
		return nil, NewApiError("Missing listing_id")
	}
	patched, err := h.listingService.PatchListing(c.Request.Context(), reqArgs.ListingID, reqArgs.Patch)
	if err != nil {
		return nil, h.serviceError(err, "patch listing")
	}
	return patched, nil
}

func (h *JsonApiHandler) deleteListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	listingID, apiErr := h.parseIDArg(args, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.listingService.DeleteListing(c.Request.Context(), listingID); err != nil {
		return nil, h.serviceError(err, "delete listing")
	}
	return true, nil
}

type ReplyToReviewArgs struct {
	ListingID utils.SixID      `json:"listing_id"`
	Review    models.ReviewRef `json:"review"`
	Reply     string           `json:"reply"`
}

func (h *JsonApiHandler) replyToReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ReplyToReviewArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ListingID.IsZero() {
		return nil, NewApiError("Missing listing_id")
	}
	err := h.listingService.ReplyToReview(c.Request.Context(), reqArgs.ListingID, reqArgs.Review, reqArgs.Reply)
	if err != nil {
		return nil, h.serviceError(err, "reply to review")
	}
	return true, nil
}

type ToggleBookedByArgs struct {
	ListingID utils.SixID `json:"listing_id"`
	UserID    utils.SixID `json:"user_id"`
}

func (h *JsonApiHandler) toggleBookedBy(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ToggleBookedByArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ListingID.IsZero() || reqArgs.UserID.IsZero() {
		return nil, NewApiError("Missing required arguments (listing_id, user_id)")
	}
	booked, err := h.listingService.ToggleBookedBy(c.Request.Context(), reqArgs.ListingID, reqArgs.UserID)
	if err != nil {
		return nil, h.serviceError(err, "toggle booked_by")
	}
	return gin.H{"booked": booked}, nil
}
