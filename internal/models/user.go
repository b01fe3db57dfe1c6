package models

import (
	"time"

	"kostfinder/internal/utils"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account.
type User struct {
	Base               `bson:",inline"`
	Name               string        `bson:"name" json:"name"`
	Email              string        `bson:"email" json:"email"`
	PasswordHash       string        `bson:"password" json:"-"`
	Role               string        `bson:"role" json:"role"`
	ProfileImageURL    string        `bson:"profile_image_url,omitempty" json:"profile_image_url,omitempty"`
	FavoriteListingIDs []utils.SixID `bson:"favorite_listing_ids" json:"favorite_listing_ids"`
	Bookings           []Booking     `bson:"bookings" json:"bookings"`
	UpdatedAt          time.Time     `bson:"updated_at" json:"updated_at"`
	CreatedAt          time.Time     `bson:"created_at" json:"created_at"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Booking is a denormalized snapshot of a listing, embedded in User.Bookings.
// It stays displayable after the listing itself is deleted.
type Booking struct {
	ID              utils.SixID `bson:"id" json:"id"`
	ListingID       utils.SixID `bson:"listing_id" json:"listing_id"`
	ListingName     string      `bson:"listing_name" json:"listing_name"`
	ListingImageURL string      `bson:"listing_image_url" json:"listing_image_url"`
	ListingPrice    string      `bson:"listing_price" json:"listing_price"`
	BookedAt        time.Time   `bson:"booked_at" json:"booked_at"`
}

// NewBookingFor snapshots l for a booking made at now.
func NewBookingFor(l *Listing, now time.Time) Booking {
	return Booking{
		ID:              utils.NewSixID(),
		ListingID:       l.ID,
		ListingName:     l.Name,
		ListingImageURL: l.ImageURL,
		ListingPrice:    l.EffectivePrice(),
		BookedAt:        now,
	}
}
