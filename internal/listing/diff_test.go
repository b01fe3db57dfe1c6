package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kostfinder/internal/models"
)

func TestDiff(t *testing.T) {
	a := kost("a", at(1), nil)
	b := kost("b", at(2), nil)
	c := kost("c", at(3), nil)

	bEdited := b
	bEdited.Reviews = append([]models.Review{}, models.Review{Rating: 5})

	changes := Diff([]models.Listing{a, b}, []models.Listing{bEdited, c})
	if assert.Len(t, changes, 3) {
		assert.Equal(t, Modified, changes[0].Kind)
		assert.Equal(t, b.ID, changes[0].ID)
		assert.Equal(t, bEdited, *changes[0].Listing)
		assert.Equal(t, Added, changes[1].Kind)
		assert.Equal(t, c.ID, changes[1].ID)
		assert.Equal(t, Removed, changes[2].Kind)
		assert.Equal(t, a.ID, changes[2].ID)
		assert.Nil(t, changes[2].Listing)
	}

	assert.Empty(t, Diff([]models.Listing{a, b}, []models.Listing{a, b}))
	assert.Len(t, Diff(nil, []models.Listing{a}), 1)
}
