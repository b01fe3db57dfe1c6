package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"kostfinder/internal/auth"
	"kostfinder/internal/db"
	"kostfinder/internal/listing"
	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// IUserService defines the interface for user-related operations.
type IUserService interface {
	Register(ctx context.Context, name, email, password, role string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID utils.SixID, name, email string) (*models.User, error)
	UpdateProfileImage(ctx context.Context, userID utils.SixID, url string) error
	ToggleFavorite(ctx context.Context, userID, listingID utils.SixID) (bool, error)
	BookListing(ctx context.Context, userID, listingID utils.SixID) (*models.Booking, error)
	CancelBooking(ctx context.Context, userID, bookingID utils.SixID) (*models.Booking, error)
	ListBookings(ctx context.Context, userID utils.SixID) ([]models.Booking, error)
}

type registration struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=72"`
	Role     string `validate:"oneof=user admin"`
}

type profile struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
}

// userService implements IUserService.
type userService struct {
	db     *mongo.Database
	logger *logrus.Logger
	now    func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database, logger *logrus.Logger) IUserService {
	return &userService{db: database, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *userService) users() *mongo.Collection {
	return s.db.Collection(db.UsersCollection)
}

func (s *userService) listings() *mongo.Collection {
	return s.db.Collection(db.ListingsCollection)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. An empty role means a regular user.
func (s *userService) Register(ctx context.Context, name, email, password, role string) (*models.User, error) {
	if role == "" {
		role = models.RoleUser
	}
	in := registration{Name: strings.TrimSpace(name), Email: normalizeEmail(email), Password: password, Role: role}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		Name:               in.Name,
		Email:              in.Email,
		PasswordHash:       hash,
		Role:               in.Role,
		FavoriteListingIDs: []utils.SixID{},
		Bookings:           []models.Booking{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = db.WithRetries(func() error {
		user.GenID()
		_, insertErr := s.users().InsertOne(ctx, user)
		return insertErr
	}, db.DefaultMaxRetries, db.IsDuplicateIDError)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("error inserting user %s (last attempted id %s): %w", in.Email, user.ID, err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID.String(), "role": user.Role}).Info("User registered")
	return user, nil
}

// Authenticate checks the password against the stored hash. Unknown email
// and wrong password both yield ErrInvalidCredentials.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID finds a user by id.
func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID, err)
	}
	return &user, nil
}

// FindByEmail finds a user by email address, ignoring case.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.users().FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// UpdateProfile changes name and email. Taking another account's email fails with ErrEmailExists.
func (s *userService) UpdateProfile(ctx context.Context, userID utils.SixID, name, email string) (*models.User, error) {
	in := profile{Name: strings.TrimSpace(name), Email: normalizeEmail(email)}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	err := db.RequireMatch(s.users().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"name": in.Name, "email": in.Email, "updated_at": s.now()}},
	))
	if err != nil {
		if errors.Is(err, db.ErrNoMatch) {
			return nil, ErrUserNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to update profile of user %s: %w", userID, err)
	}
	return s.FindByID(ctx, userID)
}

// UpdateProfileImage stores the URL of an already uploaded profile picture.
func (s *userService) UpdateProfileImage(ctx context.Context, userID utils.SixID, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return &ValidationError{Field: "url", Rule: "required"}
	}
	err := db.RequireMatch(s.users().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"profile_image_url": url, "updated_at": s.now()}},
	))
	if err != nil {
		if errors.Is(err, db.ErrNoMatch) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update profile image of user %s: %w", userID, err)
	}
	return nil
}

// ToggleFavorite adds listingID to the user's favourites, or removes it when
// already there. It returns whether the listing is a favourite afterwards.
func (s *userService) ToggleFavorite(ctx context.Context, userID, listingID utils.SixID) (bool, error) {
	favorite, err := db.ToggleMember(ctx, s.users(), userID, "favorite_listing_ids", listingID, s.now())
	if err != nil {
		if errors.Is(err, db.ErrNoMatch) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("failed to toggle favourite for user %s: %w", userID, err)
	}
	return favorite, nil
}

// BookListing records a booking on both sides in one transaction: the user
// gets a snapshot of the listing and the listing gets the user in booked_by.
// If either document is missing nothing is written.
func (s *userService) BookListing(ctx context.Context, userID, listingID utils.SixID) (*models.Booking, error) {
	var booking models.Booking
	err := db.RunInTransaction(ctx, s.db.Client(), func(sc mongo.SessionContext) error {
		var l models.Listing
		if err := s.listings().FindOne(sc, bson.M{"_id": listingID}).Decode(&l); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrListingNotFound
			}
			return fmt.Errorf("failed to read listing %s: %w", listingID, err)
		}

		now := s.now()
		booking = models.NewBookingFor(&l, now)

		_, err := s.listings().UpdateOne(sc,
			bson.M{"_id": listingID},
			bson.M{"$addToSet": bson.M{"booked_by": userID}, "$set": bson.M{"updated_at": now}},
		)
		if err != nil {
			return fmt.Errorf("failed to add booker to listing %s: %w", listingID, err)
		}

		err = db.RequireMatch(s.users().UpdateOne(sc,
			bson.M{"_id": userID},
			bson.M{"$push": bson.M{"bookings": booking}, "$set": bson.M{"updated_at": now}},
		))
		if err != nil {
			if errors.Is(err, db.ErrNoMatch) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to push booking to user %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    userID.String(),
		"listing_id": listingID.String(),
		"booking_id": booking.ID.String(),
	}).Info("Listing booked")
	return &booking, nil
}

// CancelBooking removes one booking from the user and, unless the user still
// holds another booking for the same listing, removes the user from the
// listing's booked_by. A deleted listing does not prevent cancellation.
func (s *userService) CancelBooking(ctx context.Context, userID, bookingID utils.SixID) (*models.Booking, error) {
	var cancelled models.Booking
	err := db.RunInTransaction(ctx, s.db.Client(), func(sc mongo.SessionContext) error {
		var user models.User
		if err := s.users().FindOne(sc, bson.M{"_id": userID}).Decode(&user); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to read user %s: %w", userID, err)
		}

		idx := -1
		for i, b := range user.Bookings {
			if b.ID == bookingID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrBookingNotFound
		}
		cancelled = user.Bookings[idx]

		stillBooked := false
		for i, b := range user.Bookings {
			if i != idx && b.ListingID == cancelled.ListingID {
				stillBooked = true
				break
			}
		}

		now := s.now()
		_, err := s.users().UpdateOne(sc,
			bson.M{"_id": userID},
			bson.M{"$pull": bson.M{"bookings": bson.M{"id": bookingID}}, "$set": bson.M{"updated_at": now}},
		)
		if err != nil {
			return fmt.Errorf("failed to pull booking %s from user %s: %w", bookingID, userID, err)
		}

		if stillBooked {
			return nil
		}
		_, err = s.listings().UpdateOne(sc,
			bson.M{"_id": cancelled.ListingID},
			bson.M{"$pull": bson.M{"booked_by": userID}, "$set": bson.M{"updated_at": now}},
		)
		if err != nil {
			return fmt.Errorf("failed to remove booker from listing %s: %w", cancelled.ListingID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    userID.String(),
		"booking_id": bookingID.String(),
	}).Info("Booking cancelled")
	return &cancelled, nil
}

// ListBookings returns the user's booking history, newest first.
func (s *userService) ListBookings(ctx context.Context, userID utils.SixID) ([]models.Booking, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return listing.SortBookings(user.Bookings), nil
}
