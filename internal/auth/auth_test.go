package auth

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kostfinder/internal/logging"
	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("rahasia1")
	require.NoError(t, err)
	assert.NotEqual(t, "rahasia1", hash)
	assert.True(t, CheckPasswordHash("rahasia1", hash))
	assert.False(t, CheckPasswordHash("rahasia2", hash))
}

func TestPasswordHash_LengthPolicy(t *testing.T) {
	_, err := HashPassword("abc12")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = HashPassword("")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	// six characters, more than six bytes
	hash, err := HashPassword("sandiü")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("sandiü", hash))

	_, err = HashPassword(strings.Repeat("a", 73))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordTooShort)
}

func TestJWT_RoundTrip(t *testing.T) {
	userID := utils.NewSixID()
	token, issued, err := GenerateJWT(userID, models.RoleAdmin, "secret", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, issued.ID, claims.ID)

	_, other, err := GenerateJWT(userID, models.RoleUser, "secret", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, issued.ID, other.ID)
	assert.False(t, other.IsAdmin())
}

func TestJWT_Rejects(t *testing.T) {
	token, _, err := GenerateJWT(utils.NewSixID(), models.RoleUser, "secret", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)

	expired, _, err := GenerateJWT(utils.NewSixID(), models.RoleUser, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, "secret")
	assert.Error(t, err)

	_, err = ValidateJWT("not-a-token", "secret")
	assert.Error(t, err)
}

func testRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set; skipping Redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisDenyList(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	dl := NewRedisDenyList(rdb)

	id := "jti-" + utils.NewSixID().String()
	denied, err := dl.IsDenied(ctx, id)
	require.NoError(t, err)
	assert.False(t, denied)

	require.NoError(t, dl.Deny(ctx, id, time.Now().Add(time.Minute)))
	denied, err = dl.IsDenied(ctx, id)
	require.NoError(t, err)
	assert.True(t, denied)

	past := "jti-" + utils.NewSixID().String()
	require.NoError(t, dl.Deny(ctx, past, time.Now().Add(-time.Minute)))
	denied, err = dl.IsDenied(ctx, past)
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestRedisEvents(t *testing.T) {
	rdb := testRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewRedisEvents(rdb, logging.Discard())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, EventSignedIn, "USER000001"))

	select {
	case evt := <-events:
		assert.Equal(t, EventSignedIn, evt.Type)
		assert.Equal(t, "USER000001", evt.UserID)
	case <-ctx.Done():
		t.Fatal("auth event not received")
	}
}

func TestLogEvents(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	events := make(chan Event, 2)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	events <- Event{Type: EventRegistered, UserID: "USER000001", At: at}
	events <- Event{Type: EventSignedOut, UserID: "USER000002", At: at}
	close(events)

	LogEvents(events, logger)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, EventRegistered, entries[0].Data["event"])
	assert.Equal(t, "USER000001", entries[0].Data["user_id"])
	assert.Equal(t, EventSignedOut, entries[1].Data["event"])
}
