package handlers_test

import (
	"context"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"kostfinder/internal/listing"
	"kostfinder/internal/models"
	"kostfinder/internal/storage"
	"kostfinder/internal/utils"
)

// --- Mocks ---

// MockUserService implements services.IUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, name, email, password, role string) (*models.User, error) {
	args := m.Called(ctx, name, email, password, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, userID utils.SixID, name, email string) (*models.User, error) {
	args := m.Called(ctx, userID, name, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateProfileImage(ctx context.Context, userID utils.SixID, url string) error {
	args := m.Called(ctx, userID, url)
	return args.Error(0)
}

func (m *MockUserService) ToggleFavorite(ctx context.Context, userID, listingID utils.SixID) (bool, error) {
	args := m.Called(ctx, userID, listingID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserService) BookListing(ctx context.Context, userID, listingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, userID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockUserService) CancelBooking(ctx context.Context, userID, bookingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, userID, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockUserService) ListBookings(ctx context.Context, userID utils.SixID) ([]models.Booking, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

// MockListingService implements services.IListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	args := m.Called(ctx, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) ListListings(ctx context.Context) ([]models.Listing, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) ReplaceListing(ctx context.Context, listingID utils.SixID, l *models.Listing) (*models.Listing, error) {
	args := m.Called(ctx, listingID, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) PatchListing(ctx context.Context, listingID utils.SixID, patch models.ListingPatch) (*models.Listing, error) {
	args := m.Called(ctx, listingID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID utils.SixID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

func (m *MockListingService) AppendReview(ctx context.Context, listingID utils.SixID, review models.Review) (*models.Review, error) {
	args := m.Called(ctx, listingID, review)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}

func (m *MockListingService) ReplyToReview(ctx context.Context, listingID utils.SixID, ref models.ReviewRef, reply string) error {
	args := m.Called(ctx, listingID, ref, reply)
	return args.Error(0)
}

func (m *MockListingService) ToggleBookedBy(ctx context.Context, listingID, userID utils.SixID) (bool, error) {
	args := m.Called(ctx, listingID, userID)
	return args.Bool(0), args.Error(1)
}

// MockImageStore implements storage.IImageStore
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*storage.UploadResult, error) {
	args := m.Called(ctx, filename, contentType, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UploadResult), args.Error(1)
}

func (m *MockImageStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

func (m *MockImageStore) Replace(ctx context.Context, key, contentType string, data []byte) error {
	args := m.Called(ctx, key, contentType, data)
	return args.Error(0)
}

func (m *MockImageStore) Provider() string {
	args := m.Called()
	return args.String(0)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	MockImageStore
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (*storage.UploadResult, string, error) {
	args := m.Called(ctx, userID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*storage.UploadResult), args.String(1), args.Error(2)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// MockRecentlyViewed implements cache.IRecentlyViewed
type MockRecentlyViewed struct {
	mock.Mock
}

func (m *MockRecentlyViewed) Add(ctx context.Context, deviceID string, listingID utils.SixID) ([]utils.SixID, error) {
	args := m.Called(ctx, deviceID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]utils.SixID), args.Error(1)
}

func (m *MockRecentlyViewed) List(ctx context.Context, deviceID string) ([]utils.SixID, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]utils.SixID), args.Error(1)
}

// MockDenyList implements auth.ITokenDenyList
type MockDenyList struct {
	mock.Mock
}

func (m *MockDenyList) Deny(ctx context.Context, tokenID string, expiresAt time.Time) error {
	args := m.Called(ctx, tokenID, expiresAt)
	return args.Error(0)
}

func (m *MockDenyList) IsDenied(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

// MockEventPublisher implements auth.IEventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, eventType, userID string) error {
	args := m.Called(ctx, eventType, userID)
	return args.Error(0)
}

// fakeListingReader is a fixed snapshot standing in for the live mirror.
type fakeListingReader struct {
	listings []models.Listing
}

func newFakeListingReader(listings ...models.Listing) *fakeListingReader {
	return &fakeListingReader{listings: listings}
}

func (f *fakeListingReader) Listings() []models.Listing { return f.listings }

func (f *fakeListingReader) Views() listing.Views { return listing.Derive(f.listings) }

func (f *fakeListingReader) GetByID(ctx context.Context, id utils.SixID) *models.Listing {
	for i := range f.listings {
		if f.listings[i].ID == id {
			l := f.listings[i]
			return &l
		}
	}
	return nil
}

// Observe delivers the snapshot once and then closes, as if the feed ended.
func (f *fakeListingReader) Observe() (<-chan listing.Update, func()) {
	updates := make(chan listing.Update, 1)
	updates <- listing.Update{Views: f.Views(), Changes: []listing.Change{}}
	close(updates)
	return updates, func() {}
}
