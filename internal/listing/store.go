package listing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// Feed delivers full snapshots of the listing collection. Run blocks until
// ctx is cancelled or the feed fails, calling onSnapshot once per snapshot.
type Feed interface {
	Run(ctx context.Context, onSnapshot func([]models.Listing)) error
}

// Fetcher loads a single listing straight from the document store.
type Fetcher interface {
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
}

// Update is what observers receive after every snapshot.
type Update struct {
	Views   Views    `json:"views"`
	Changes []Change `json:"changes"`
}

// Store is the in-memory mirror of the listing collection.
type Store struct {
	feed    Feed
	fetcher Fetcher
	logger  *logrus.Logger

	mu        sync.RWMutex
	listings  []models.Listing
	byID      map[utils.SixID]int
	views     Views
	observers map[int]chan Update
	nextObs   int
}

// NewStore wires a store to its feed. fetcher may be nil, in which case
// GetByID only consults the mirror.
func NewStore(feed Feed, fetcher Fetcher, logger *logrus.Logger) *Store {
	return &Store{
		feed:      feed,
		fetcher:   fetcher,
		logger:    logger,
		byID:      map[utils.SixID]int{},
		views:     Derive(nil),
		observers: map[int]chan Update{},
	}
}

// Subscribe starts the feed in the background and returns immediately.
// When the feed fails the last snapshot stays in place and nothing is retried.
func (s *Store) Subscribe(ctx context.Context) {
	s.mu.Lock()
	s.views.Loading = true
	s.views.Error = ""
	s.mu.Unlock()

	go func() {
		err := s.feed.Run(ctx, s.apply)

		s.mu.Lock()
		s.views.Loading = false
		if err != nil && !errors.Is(err, context.Canceled) {
			s.views.Error = err.Error()
			s.logger.WithError(err).Error("Listing feed stopped; serving last known snapshot")
		}
		s.broadcastLocked(Update{Views: s.views, Changes: []Change{}})
		s.mu.Unlock()
	}()
}

func (s *Store) apply(snapshot []models.Listing) {
	views := Derive(snapshot)
	views.SyncedAt = time.Now().UTC()

	byID := make(map[utils.SixID]int, len(snapshot))
	for i := range views.All {
		byID[views.All[i].ID] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := Diff(s.listings, views.All)
	views.Loading = false
	s.listings = views.All
	s.byID = byID
	s.views = views

	s.logger.WithFields(logrus.Fields{
		"listings": len(views.All),
		"changes":  len(changes),
	}).Debug("Listing snapshot applied")
	s.broadcastLocked(Update{Views: views, Changes: changes})
}

// Views returns the current derived views.
func (s *Store) Views() Views {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views
}

// Listings returns the current snapshot.
func (s *Store) Listings() []models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings
}

// GetByID looks the listing up in the mirror, then in the document store.
// Not found and fetch errors both yield nil.
func (s *Store) GetByID(ctx context.Context, id utils.SixID) *models.Listing {
	s.mu.RLock()
	if i, ok := s.byID[id]; ok {
		l := s.listings[i]
		s.mu.RUnlock()
		return &l
	}
	s.mu.RUnlock()

	if s.fetcher == nil {
		return nil
	}
	l, err := s.fetcher.FindListingByID(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("listing_id", id.String()).Debug("Listing lookup failed")
		return nil
	}
	return l
}

// Observe registers an observer. The channel holds at most one pending
// update; a slow reader only ever sees the latest one. Call cancel when done.
func (s *Store) Observe() (<-chan Update, func()) {
	ch := make(chan Update, 1)

	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	ch <- Update{Views: s.views, Changes: []Change{}}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) broadcastLocked(u Update) {
	for _, ch := range s.observers {
		select {
		case ch <- u:
			continue
		default:
		}
		// drop the stale pending update
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}
