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
	"go.mongodb.org/mongo-driver/mongo/options"

	"kostfinder/internal/db"
	"kostfinder/internal/listing"
	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// IListingService defines the mutations and reads on the listings collection.
type IListingService interface {
	CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	ListListings(ctx context.Context) ([]models.Listing, error)
	ReplaceListing(ctx context.Context, listingID utils.SixID, l *models.Listing) (*models.Listing, error)
	PatchListing(ctx context.Context, listingID utils.SixID, patch models.ListingPatch) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID utils.SixID) error
	AppendReview(ctx context.Context, listingID utils.SixID, review models.Review) (*models.Review, error)
	ReplyToReview(ctx context.Context, listingID utils.SixID, ref models.ReviewRef, reply string) error
	ToggleBookedBy(ctx context.Context, listingID, userID utils.SixID) (bool, error)
}

// listingService implements IListingService.
type listingService struct {
	db     *mongo.Database
	logger *logrus.Logger
	now    func() time.Time
}

// NewListingService creates a new ListingService.
func NewListingService(database *mongo.Database, logger *logrus.Logger) IListingService {
	return &listingService{db: database, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *listingService) coll() *mongo.Collection {
	return s.db.Collection(db.ListingsCollection)
}

// normalize trims the free-text fields and fills nil collections.
func normalize(l *models.Listing) {
	l.Name = strings.TrimSpace(l.Name)
	l.Location = strings.TrimSpace(l.Location)
	l.Price = strings.TrimSpace(l.Price)
	if l.PromoPrice != nil && strings.TrimSpace(*l.PromoPrice) == "" {
		l.PromoPrice = nil
	}
	if l.Tags == nil {
		l.Tags = []string{}
	}
	if l.Reviews == nil {
		l.Reviews = []models.Review{}
	}
	if l.BookedBy == nil {
		l.BookedBy = []utils.SixID{}
	}
}

// CreateListing inserts a new listing with a fresh id and server timestamps.
// Reviews and bookings always start empty.
func (s *listingService) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	normalize(l)
	if err := validateStruct(l); err != nil {
		return nil, err
	}

	now := s.now()
	l.CreatedAt = &now
	l.UpdatedAt = now
	l.Reviews = []models.Review{}
	l.BookedBy = []utils.SixID{}

	err := db.Try(func() error {
		l.GenID()
		_, insertErr := s.coll().InsertOne(ctx, l)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert listing %q after retries (last id %s): %w", l.Name, l.ID, err)
	}

	s.logger.WithFields(logrus.Fields{"listing_id": l.ID.String(), "name": l.Name}).Info("Listing created")
	return l, nil
}

// FindListingByID returns ErrListingNotFound when no document has the id.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var l models.Listing
	err := s.coll().FindOne(ctx, bson.M{"_id": listingID}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID, err)
	}
	return &l, nil
}

// ListListings reads the whole collection in natural order.
func (s *listingService) ListListings(ctx context.Context) ([]models.Listing, error) {
	return listing.LoadAll(ctx, s.coll())
}

// ReplaceListing overwrites the whole document. Anything the caller leaves
// unset goes back to its zero value; only the id and creation time survive.
func (s *listingService) ReplaceListing(ctx context.Context, listingID utils.SixID, l *models.Listing) (*models.Listing, error) {
	normalize(l)
	if err := validateStruct(l); err != nil {
		return nil, err
	}

	existing, err := s.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	l.ID = listingID
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = s.now()

	res, err := s.coll().ReplaceOne(ctx, bson.M{"_id": listingID}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to replace listing %s: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrListingNotFound
	}
	return l, nil
}

// PatchListing sets only the fields present in patch. An empty promo price
// removes the promo price.
func (s *listingService) PatchListing(ctx context.Context, listingID utils.SixID, patch models.ListingPatch) (*models.Listing, error) {
	if patch.IsEmpty() {
		return nil, ErrNothingToUpdate
	}
	patch = patch.Trimmed()
	if err := validateStruct(patch); err != nil {
		return nil, err
	}

	set := bson.M{"updated_at": s.now()}
	unset := bson.M{}
	setString := func(field string, v *string) {
		if v != nil {
			set[field] = *v
		}
	}
	setString("name", patch.Name)
	setString("location", patch.Location)
	setString("address", patch.Address)
	setString("phone", patch.Phone)
	setString("description", patch.Description)
	setString("image_url", patch.ImageURL)
	setString("price", patch.Price)
	setString("type", patch.Type)
	if patch.PromoPrice != nil {
		if *patch.PromoPrice == "" {
			unset["promo_price"] = ""
		} else {
			set["promo_price"] = *patch.PromoPrice
		}
	}
	if patch.Available != nil {
		set["available"] = *patch.Available
	}
	if patch.Tags != nil {
		tags := *patch.Tags
		if tags == nil {
			tags = []string{}
		}
		set["tags"] = tags
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var updated models.Listing
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.coll().FindOneAndUpdate(ctx, bson.M{"_id": listingID}, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to patch listing %s: %w", listingID, err)
	}
	return &updated, nil
}

// DeleteListing removes the document. Bookings that point at it are left alone.
func (s *listingService) DeleteListing(ctx context.Context, listingID utils.SixID) error {
	res, err := s.coll().DeleteOne(ctx, bson.M{"_id": listingID})
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", listingID, err)
	}
	if res.DeletedCount == 0 {
		return ErrListingNotFound
	}
	s.logger.WithField("listing_id", listingID.String()).Info("Listing deleted")
	return nil
}

// AppendReview pushes a review with a generated id and a server timestamp.
func (s *listingService) AppendReview(ctx context.Context, listingID utils.SixID, review models.Review) (*models.Review, error) {
	review.Comment = strings.TrimSpace(review.Comment)
	review.AdminReply = ""
	if err := validateStruct(review); err != nil {
		return nil, err
	}
	review.ID = utils.NewSixID()
	review.CreatedAt = s.now()

	err := db.RequireMatch(s.coll().UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{
			"$push": bson.M{"reviews": review},
			"$set":  bson.M{"updated_at": review.CreatedAt},
		},
	))
	if err != nil {
		if errors.Is(err, db.ErrNoMatch) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to append review to listing %s: %w", listingID, err)
	}
	return &review, nil
}

// ReplyToReview sets the admin reply of one review. The listing is read and
// its review array written back inside a single transaction.
func (s *listingService) ReplyToReview(ctx context.Context, listingID utils.SixID, ref models.ReviewRef, reply string) error {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return &ValidationError{Field: "reply", Rule: "required"}
	}

	return db.RunInTransaction(ctx, s.db.Client(), func(sc mongo.SessionContext) error {
		var l models.Listing
		if err := s.coll().FindOne(sc, bson.M{"_id": listingID}).Decode(&l); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrListingNotFound
			}
			return fmt.Errorf("failed to read listing %s: %w", listingID, err)
		}

		found := false
		for i := range l.Reviews {
			if ref.Matches(l.Reviews[i]) {
				l.Reviews[i].AdminReply = reply
				found = true
				break
			}
		}
		if !found {
			return ErrReviewNotFound
		}

		_, err := s.coll().UpdateOne(sc,
			bson.M{"_id": listingID},
			bson.M{"$set": bson.M{"reviews": l.Reviews, "updated_at": s.now()}},
		)
		if err != nil {
			return fmt.Errorf("failed to write reviews of listing %s: %w", listingID, err)
		}
		return nil
	})
}

// ToggleBookedBy adds userID to booked_by, or removes it when present.
// It returns whether the user is in booked_by afterwards.
func (s *listingService) ToggleBookedBy(ctx context.Context, listingID, userID utils.SixID) (bool, error) {
	booked, err := db.ToggleMember(ctx, s.coll(), listingID, "booked_by", userID, s.now())
	if err != nil {
		if errors.Is(err, db.ErrNoMatch) {
			return false, ErrListingNotFound
		}
		return false, fmt.Errorf("failed to toggle booked_by on listing %s: %w", listingID, err)
	}
	return booked, nil
}
