// Package listing keeps a live mirror of the listing collection and derives
// the promoted, popular and newest views from it.
package listing

import (
	"cmp"
	"slices"
	"time"

	"kostfinder/internal/models"
)

// Views is the set of projections recomputed on every snapshot.
type Views struct {
	All      []models.Listing `json:"all"`
	Promoted []models.Listing `json:"promoted"`
	Popular  []models.Listing `json:"popular"`
	Newest   []models.Listing `json:"newest"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`
	SyncedAt time.Time        `json:"synced_at"`
}

// Derive computes all views for one snapshot.
func Derive(listings []models.Listing) Views {
	return Views{
		All:      nonNil(slices.Clone(listings)),
		Promoted: DerivePromoted(listings),
		Popular:  DerivePopular(listings),
		Newest:   DeriveNewest(listings),
	}
}

// DerivePromoted returns the listings tagged models.PromoTag in collection order.
func DerivePromoted(listings []models.Listing) []models.Listing {
	out := make([]models.Listing, 0)
	for i := range listings {
		if listings[i].HasTag(models.PromoTag) {
			out = append(out, listings[i])
		}
	}
	return out
}

// DeriveNewest sorts by creation time, newest first. Listings that were
// never server-stamped sort last. The input is not modified.
func DeriveNewest(listings []models.Listing) []models.Listing {
	out := slices.Clone(listings)
	slices.SortStableFunc(out, func(a, b models.Listing) int {
		switch {
		case a.CreatedAt == nil && b.CreatedAt == nil:
			return 0
		case a.CreatedAt == nil:
			return 1
		case b.CreatedAt == nil:
			return -1
		}
		return b.CreatedAt.Compare(*a.CreatedAt)
	})
	return nonNil(out)
}

// DerivePopular sorts by mean review rating, highest first. Listings without
// reviews count as 0.0. The input is not modified.
func DerivePopular(listings []models.Listing) []models.Listing {
	avg := make([]float64, len(listings))
	idx := make([]int, len(listings))
	for i := range listings {
		avg[i] = AverageRating(listings[i].Reviews)
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(avg[b], avg[a])
	})
	out := make([]models.Listing, len(idx))
	for i, j := range idx {
		out[i] = listings[j]
	}
	return out
}

// AverageRating is the arithmetic mean of the ratings, or 0 for none.
func AverageRating(reviews []models.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	var sum float64
	for _, r := range reviews {
		sum += r.Rating
	}
	return sum / float64(len(reviews))
}

func nonNil(ls []models.Listing) []models.Listing {
	if ls == nil {
		return []models.Listing{}
	}
	return ls
}
