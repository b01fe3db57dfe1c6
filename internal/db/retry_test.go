package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"kostfinder/internal/utils"
)

func duplicateKeyError(index, key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.listings index: %s dup key: { : %q }", index, key),
	}}}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetries(func() error { calls++; return nil }, 3, IsMongoDuplicateKeyError)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_FailureNonDuplicateKey(t *testing.T) {
	calls := 0
	boom := errors.New("some other error")
	err := WithRetries(func() error { calls++; return boom }, 3, IsMongoDuplicateKeyError)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return duplicateKeyError("_id_", "0000000001")
	}, 3, IsMongoDuplicateKeyError)

	assert.True(t, IsMongoDuplicateKeyError(err))
	assert.Equal(t, 4, calls)
}

func TestWithRetries_CollisionResolves(t *testing.T) {
	defer func() { utils.NewSixIDHook = nil }()

	id1 := utils.SixID{1, 2, 3, 4, 5, 1}
	id2 := utils.SixID{1, 2, 3, 4, 5, 2}
	sequence := []utils.SixID{id1, id1, id2}
	next := 0
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		if next < len(sequence) {
			next++
			return sequence[next-1], true
		}
		return utils.SixID{}, false
	}

	inserted := map[utils.SixID]bool{}
	calls := 0
	err := Try(func() error {
		calls++
		id := utils.NewSixID()
		if inserted[id] {
			return duplicateKeyError("_id_", id.String())
		}
		inserted[id] = true
		return nil
	})

	assert.NoError(t, err)

	// the second insert draws id1 again and has to retry onto id2
	err = Try(func() error {
		calls++
		id := utils.NewSixID()
		if inserted[id] {
			return duplicateKeyError("_id_", id.String())
		}
		inserted[id] = true
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, inserted[id1])
	assert.True(t, inserted[id2])
}

func TestIsDuplicateIDError(t *testing.T) {
	assert.True(t, IsDuplicateIDError(duplicateKeyError("_id_", "x")))
	assert.False(t, IsDuplicateIDError(duplicateKeyError("email_unique", "a@b.c")))
	assert.True(t, IsMongoDuplicateKeyError(duplicateKeyError("email_unique", "a@b.c")))
	assert.False(t, IsDuplicateIDError(errors.New("plain")))
}

func TestRequireMatch(t *testing.T) {
	assert.ErrorIs(t, RequireMatch(&mongo.UpdateResult{MatchedCount: 0}, nil), ErrNoMatch)
	assert.NoError(t, RequireMatch(&mongo.UpdateResult{MatchedCount: 1}, nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, RequireMatch(nil, boom), boom)
}
