package models

import (
	"strings"
	"time"

	"kostfinder/internal/utils"
)

// PromoTag is the sentinel tag that puts a listing into the promoted view.
const PromoTag = "Promo"

// Kost categories.
const (
	TypeCampur = "Campur"
	TypePutra  = "Putra"
	TypePutri  = "Putri"
)

// Listing is a rentable boarding-house ("kost") unit.
type Listing struct {
	Base        `bson:",inline"`
	Name        string        `bson:"name" json:"name" validate:"required"`
	Location    string        `bson:"location" json:"location" validate:"required"` // regency label, e.g. "Denpasar"
	Address     string        `bson:"address" json:"address"`
	Phone       string        `bson:"phone" json:"phone"`
	Description string        `bson:"description" json:"description"`
	ImageURL    string        `bson:"image_url" json:"image_url"`
	Price       string        `bson:"price" json:"price" validate:"required"` // formatted, e.g. "Rp 1.200.000 / Bulan"
	PromoPrice  *string       `bson:"promo_price,omitempty" json:"promo_price,omitempty"`
	Available   bool          `bson:"available" json:"available"`
	Type        string        `bson:"type" json:"type" validate:"omitempty,oneof=Campur Putra Putri"`
	Tags        []string      `bson:"tags" json:"tags"`
	Reviews     []Review      `bson:"reviews" json:"reviews"`
	BookedBy    []utils.SixID `bson:"booked_by" json:"booked_by"`
	CreatedAt   *time.Time    `bson:"created_at,omitempty" json:"created_at,omitempty"` // nil until server-stamped
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
}

// NewListing returns a listing with the defaults a fresh document carries.
func NewListing() *Listing {
	return &Listing{Available: true, Tags: []string{}, Reviews: []Review{}, BookedBy: []utils.SixID{}}
}

// HasTag reports whether the listing carries tag.
func (l *Listing) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EffectivePrice is the promo price when one is set, otherwise the regular price.
func (l *Listing) EffectivePrice() string {
	if l.PromoPrice != nil && *l.PromoPrice != "" {
		return *l.PromoPrice
	}
	return l.Price
}

// Review is embedded in Listing.Reviews.
type Review struct {
	ID           utils.SixID `bson:"id" json:"id"`
	ReviewerID   utils.SixID `bson:"reviewer_id" json:"reviewer_id"`
	ReviewerName string      `bson:"reviewer_name" json:"reviewer_name"`
	Rating       float64     `bson:"rating" json:"rating" validate:"gte=1,lte=5"`
	Comment      string      `bson:"comment" json:"comment"`
	AdminReply   string      `bson:"admin_reply,omitempty" json:"admin_reply,omitempty"`
	CreatedAt    time.Time   `bson:"created_at" json:"created_at"`
}

// ReviewRef identifies a review inside a listing. Legacy reviews written
// without an id are matched by reviewer and creation time instead.
type ReviewRef struct {
	ID         utils.SixID `json:"id,omitempty"`
	ReviewerID utils.SixID `json:"reviewer_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
}

// Matches reports whether r is the review the ref points to.
func (ref ReviewRef) Matches(r Review) bool {
	if !ref.ID.IsZero() {
		return r.ID == ref.ID
	}
	return r.ReviewerID == ref.ReviewerID && r.CreatedAt.Equal(ref.CreatedAt)
}

// ListingPatch is a typed partial update; nil fields are left untouched.
type ListingPatch struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,min=1"`
	Location    *string   `json:"location,omitempty" validate:"omitempty,min=1"`
	Address     *string   `json:"address,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Description *string   `json:"description,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Price       *string   `json:"price,omitempty" validate:"omitempty,min=1"`
	PromoPrice  *string   `json:"promo_price,omitempty"`
	Available   *bool     `json:"available,omitempty"`
	Type        *string   `json:"type,omitempty" validate:"omitempty,oneof=Campur Putra Putri"`
	Tags        *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ListingPatch) IsEmpty() bool {
	return p.Name == nil && p.Location == nil && p.Address == nil && p.Phone == nil &&
		p.Description == nil && p.ImageURL == nil && p.Price == nil && p.PromoPrice == nil &&
		p.Available == nil && p.Type == nil && p.Tags == nil
}

// Trimmed returns a copy of p with surrounding whitespace removed from every
// set string field.
func (p ListingPatch) Trimmed() ListingPatch {
	for _, f := range []**string{&p.Name, &p.Location, &p.Address, &p.Phone,
		&p.Description, &p.ImageURL, &p.Price, &p.PromoPrice, &p.Type} {
		if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
	return p
}
