package listing

import (
	"slices"
	"strings"

	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// Search categories besides the kost types.
const (
	CategoryAll   = "Semua"
	CategoryCheap = "Kos Murah"
)

// DefaultCheapLimit is the highest effective price a "Kos Murah" listing may have.
const DefaultCheapLimit = 1_000_000

// Regencies of Bali offered as location filters.
var Regencies = []string{
	"Badung", "Bangli", "Buleleng", "Denpasar", "Gianyar",
	"Jembrana", "Karangasem", "Klungkung", "Tabanan",
}

// Options are the search filters a client can offer.
type Options struct {
	Regencies  []string `json:"regencies"`
	Categories []string `json:"categories"`
	CheapLimit int64    `json:"cheap_limit"`
	CheapLabel string   `json:"cheap_label"`
}

// FilterOptions describes the filters Filter understands. A non-positive
// cheapLimit means DefaultCheapLimit.
func FilterOptions(cheapLimit int64) Options {
	if cheapLimit <= 0 {
		cheapLimit = DefaultCheapLimit
	}
	return Options{
		Regencies:  slices.Clone(Regencies),
		Categories: []string{CategoryAll, models.TypeCampur, models.TypePutra, models.TypePutri, CategoryCheap},
		CheapLimit: cheapLimit,
		CheapLabel: FormatPrice(cheapLimit, "Bulan"),
	}
}

// Criteria narrows a listing collection. Zero values match everything.
type Criteria struct {
	Query      string   `form:"q"`
	Location   string   `form:"location"`
	Categories []string `form:"category"`
	CheapLimit int64    `form:"-"`
}

// Filter applies c to listings, keeping collection order.
// Categories combine with AND; "Semua" disables category filtering.
func Filter(listings []models.Listing, c Criteria) []models.Listing {
	query := strings.ToLower(strings.TrimSpace(c.Query))
	limit := c.CheapLimit
	if limit <= 0 {
		limit = DefaultCheapLimit
	}
	categories := c.Categories
	if slices.Contains(categories, CategoryAll) {
		categories = nil
	}

	out := make([]models.Listing, 0)
	for i := range listings {
		l := &listings[i]
		if query != "" && !matchesQuery(l, query) {
			continue
		}
		if c.Location != "" && !strings.EqualFold(l.Location, c.Location) {
			continue
		}
		if !matchesCategories(l, categories, limit) {
			continue
		}
		out = append(out, *l)
	}
	return out
}

func matchesQuery(l *models.Listing, query string) bool {
	for _, field := range []string{l.Name, l.Location, l.Address, l.Type} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func matchesCategories(l *models.Listing, categories []string, cheapLimit int64) bool {
	for _, category := range categories {
		switch category {
		case CategoryCheap:
			p := ParsePrice(l.EffectivePrice())
			if p <= 0 || p > cheapLimit {
				return false
			}
		case models.TypePutra, models.TypePutri, models.TypeCampur:
			if !strings.EqualFold(l.Type, category) {
				return false
			}
		}
	}
	return true
}

// FilterByIDs returns the listings whose ids appear in ids, in the order of ids.
// Unknown ids are skipped.
func FilterByIDs(listings []models.Listing, ids []utils.SixID) []models.Listing {
	byID := make(map[utils.SixID]*models.Listing, len(listings))
	for i := range listings {
		byID[listings[i].ID] = &listings[i]
	}
	out := make([]models.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, *l)
		}
	}
	return out
}

// UserReview is a review together with the listing it was left on.
type UserReview struct {
	ListingID   utils.SixID   `json:"listing_id"`
	ListingName string        `json:"listing_name"`
	Review      models.Review `json:"review"`
}

// ReviewsByUser collects every review written by userID, newest first.
func ReviewsByUser(listings []models.Listing, userID utils.SixID) []UserReview {
	out := make([]UserReview, 0)
	for i := range listings {
		for _, r := range listings[i].Reviews {
			if r.ReviewerID == userID {
				out = append(out, UserReview{ListingID: listings[i].ID, ListingName: listings[i].Name, Review: r})
			}
		}
	}
	slices.SortStableFunc(out, func(a, b UserReview) int {
		return b.Review.CreatedAt.Compare(a.Review.CreatedAt)
	})
	return out
}

// SortBookings orders bookings newest first without touching the input.
func SortBookings(bookings []models.Booking) []models.Booking {
	out := slices.Clone(bookings)
	slices.SortStableFunc(out, func(a, b models.Booking) int {
		return b.BookedAt.Compare(a.BookedAt)
	})
	if out == nil {
		return []models.Booking{}
	}
	return out
}
