package tasks_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kostfinder/internal/config"
	"kostfinder/internal/email"
	"kostfinder/internal/logging"
	"kostfinder/internal/storage"
	"kostfinder/internal/tasks"
)

// --- Mocks ---

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

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
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

func (m *MockImageStore) Replace(ctx context.Context, key, contentType string, data []byte) error {
	return m.Called(ctx, key, contentType, data).Error(0)
}

func (m *MockImageStore) Provider() string { return "mock" }

func testConfig() *config.Config {
	return &config.Config{AppName: "KostFinder", ImageMaxDimension: 100, ImageMaxSizeMB: 1}
}

func pngOf(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- Email ---

func TestHandleEmailDeliveryTask_Success(t *testing.T) {
	sender := new(MockEmailSender)
	cfg := testConfig()
	p := tasks.NewTaskProcessor(cfg, logging.Discard(), sender, nil)

	task, err := tasks.NewEmailDeliveryTask(tasks.EmailTaskPayload{
		To:         "ani@example.com",
		TemplateID: email.TemplateBookingCancelled,
		Data:       map[string]interface{}{"Name": "Ani", "ListingName": "Kost Melati", "BookingID": "0000000001"},
	})
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeEmailDelivery, task.Type())

	sender.On("Send",
		mock.Anything,
		[]string{"ani@example.com"},
		"Booking cancelled: Kost Melati",
		mock.MatchedBy(func(raw []byte) bool {
			return bytes.Contains(raw, []byte("From: noreply@example.com")) &&
				bytes.Contains(raw, []byte("To: ani@example.com")) &&
				bytes.Contains(raw, []byte("0000000001"))
		}),
	).Return(nil)

	require.NoError(t, p.HandleEmailDeliveryTask(context.Background(), task))
	sender.AssertExpectations(t)
}

func TestHandleEmailDeliveryTask_PermanentFailures(t *testing.T) {
	sender := new(MockEmailSender)
	p := tasks.NewTaskProcessor(testConfig(), logging.Discard(), sender, nil)

	bad := asynq.NewTask(tasks.TypeEmailDelivery, []byte("{not json"))
	assert.True(t, errors.Is(p.HandleEmailDeliveryTask(context.Background(), bad), asynq.SkipRetry))

	unknown, err := tasks.NewEmailDeliveryTask(tasks.EmailTaskPayload{To: "a@example.com", TemplateID: "nonexistent"})
	require.NoError(t, err)
	assert.True(t, errors.Is(p.HandleEmailDeliveryTask(context.Background(), unknown), asynq.SkipRetry))

	noRecipient, err := tasks.NewEmailDeliveryTask(tasks.EmailTaskPayload{TemplateID: email.TemplateWelcome})
	require.NoError(t, err)
	assert.True(t, errors.Is(p.HandleEmailDeliveryTask(context.Background(), noRecipient), asynq.SkipRetry))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEmailDeliveryTask_SendErrorIsRetried(t *testing.T) {
	sender := new(MockEmailSender)
	p := tasks.NewTaskProcessor(testConfig(), logging.Discard(), sender, nil)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	task, err := tasks.NewEmailDeliveryTask(tasks.EmailTaskPayload{
		To:         "ani@example.com",
		TemplateID: email.TemplateWelcome,
		Data:       map[string]interface{}{"Name": "Ani"},
	})
	require.NoError(t, err)

	err = p.HandleEmailDeliveryTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

// --- Images ---

func TestNormalizeImage(t *testing.T) {
	small := pngOf(t, 50, 40)
	out, ct, changed, err := tasks.NormalizeImage(small, 100, 0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, small, out)
	assert.Empty(t, ct)

	big := pngOf(t, 400, 200)
	out, ct, changed, err = tasks.NormalizeImage(big, 100, 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "image/jpeg", ct)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	_, _, _, err = tasks.NormalizeImage([]byte("not an image"), 100, 0)
	assert.ErrorIs(t, err, tasks.ErrImageUndecodable)

	_, _, _, err = tasks.NormalizeImage(big, 100, 10)
	assert.ErrorIs(t, err, tasks.ErrImageTooLarge)
}

func TestHandleImageProcessTask_Resizes(t *testing.T) {
	store := new(MockImageStore)
	p := tasks.NewTaskProcessor(testConfig(), logging.Discard(), nil, store)

	store.On("Open", mock.Anything, "k1").Return(io.NopCloser(bytes.NewReader(pngOf(t, 300, 300))), "image/png", nil)
	store.On("Replace", mock.Anything, "k1", "image/jpeg", mock.AnythingOfType("[]uint8")).Return(nil)

	task, err := tasks.NewImageProcessTask("k1")
	require.NoError(t, err)
	require.NoError(t, p.HandleImageProcessTask(context.Background(), task))
	store.AssertExpectations(t)
}

func TestHandleImageProcessTask_SmallImageUntouched(t *testing.T) {
	store := new(MockImageStore)
	p := tasks.NewTaskProcessor(testConfig(), logging.Discard(), nil, store)
	store.On("Open", mock.Anything, "k2").Return(io.NopCloser(bytes.NewReader(pngOf(t, 20, 20))), "image/png", nil)

	task, err := tasks.NewImageProcessTask("k2")
	require.NoError(t, err)
	require.NoError(t, p.HandleImageProcessTask(context.Background(), task))
	store.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleImageProcessTask_MissingImage(t *testing.T) {
	store := new(MockImageStore)
	p := tasks.NewTaskProcessor(testConfig(), logging.Discard(), nil, store)
	store.On("Open", mock.Anything, "gone").Return(nil, "", storage.ErrImageNotFound)

	task, err := tasks.NewImageProcessTask("gone")
	require.NoError(t, err)
	err = p.HandleImageProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
