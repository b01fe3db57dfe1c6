package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kostfinder/internal/logging"
	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// chanFeed replays snapshots pushed on its channel, then fails with err.
type chanFeed struct {
	snapshots chan []models.Listing
	err       error
}

func (f *chanFeed) Run(ctx context.Context, onSnapshot func([]models.Listing)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-f.snapshots:
			if !ok {
				return f.err
			}
			onSnapshot(s)
		}
	}
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FindListingByID(ctx context.Context, id utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

// next waits for an update matching cond.
func next(t *testing.T, ch <-chan Update, cond func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			if cond(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for listing update")
		}
	}
}

func TestStore_SnapshotsAndViews(t *testing.T) {
	feed := &chanFeed{snapshots: make(chan []models.Listing)}
	store := NewStore(feed, nil, logging.Discard())
	updates, cancelObs := store.Observe()
	defer cancelObs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Subscribe(ctx)
	assert.True(t, store.Views().Loading)

	a := kost("a", at(1), []float64{3}, "Promo")
	b := kost("b", at(2), []float64{5})
	feed.snapshots <- []models.Listing{a, b}

	u := next(t, updates, func(u Update) bool { return len(u.Views.All) == 2 })
	assert.False(t, u.Views.Loading)
	assert.Equal(t, []string{"a"}, names(u.Views.Promoted))
	assert.Equal(t, []string{"b", "a"}, names(u.Views.Popular))
	assert.Equal(t, []string{"b", "a"}, names(u.Views.Newest))
	assert.Len(t, u.Changes, 2)

	// a review lands on a; the next snapshot reports one modification
	a2 := a
	a2.Reviews = append(append([]models.Review{}, a.Reviews...), models.Review{ID: utils.NewSixID(), Rating: 5})
	feed.snapshots <- []models.Listing{a2, b}

	u = next(t, updates, func(u Update) bool { return len(u.Changes) == 1 })
	assert.Equal(t, Modified, u.Changes[0].Kind)
	got := store.GetByID(context.Background(), a.ID)
	require.NotNil(t, got)
	assert.Len(t, got.Reviews, len(a.Reviews)+1)
}

func TestStore_FeedErrorKeepsLastSnapshot(t *testing.T) {
	feed := &chanFeed{snapshots: make(chan []models.Listing), err: errors.New("permission denied")}
	store := NewStore(feed, nil, logging.Discard())
	updates, cancelObs := store.Observe()
	defer cancelObs()

	store.Subscribe(context.Background())
	a := kost("a", at(1), nil)
	feed.snapshots <- []models.Listing{a}
	next(t, updates, func(u Update) bool { return len(u.Views.All) == 1 })

	close(feed.snapshots)
	u := next(t, updates, func(u Update) bool { return u.Views.Error != "" })
	assert.False(t, u.Views.Loading)
	assert.Equal(t, "permission denied", u.Views.Error)
	assert.Equal(t, []string{"a"}, names(store.Views().All))
}

func TestStore_GetByIDFallsBackToFetcher(t *testing.T) {
	fetcher := new(MockFetcher)
	store := NewStore(&chanFeed{snapshots: make(chan []models.Listing)}, fetcher, logging.Discard())

	known := kost("remote", nil, nil)
	missing := utils.NewSixID()
	broken := utils.NewSixID()
	fetcher.On("FindListingByID", mock.Anything, known.ID).Return(&known, nil)
	fetcher.On("FindListingByID", mock.Anything, missing).Return(nil, errors.New("not found"))
	fetcher.On("FindListingByID", mock.Anything, broken).Return(nil, errors.New("connection reset"))

	got := store.GetByID(context.Background(), known.ID)
	require.NotNil(t, got)
	assert.Equal(t, "remote", got.Name)
	assert.Nil(t, store.GetByID(context.Background(), missing))
	assert.Nil(t, store.GetByID(context.Background(), broken))
	fetcher.AssertExpectations(t)
}

func TestStore_ObserveCancel(t *testing.T) {
	store := NewStore(&chanFeed{snapshots: make(chan []models.Listing)}, nil, logging.Discard())
	ch, cancel := store.Observe()
	<-ch // initial state
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// applying after cancel must not block or panic
	store.apply([]models.Listing{kost("x", nil, nil)})
	assert.Len(t, store.Views().All, 1)
}
