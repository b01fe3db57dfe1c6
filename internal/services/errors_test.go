package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kostfinder/internal/models"
)

func TestValidateStruct_ReportsFirstField(t *testing.T) {
	err := validateStruct(models.Review{Rating: 7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "rating", verr.Field)
	assert.Equal(t, "lte=5", verr.Rule)
	assert.Equal(t, "invalid rating: lte=5", verr.Error())

	assert.NoError(t, validateStruct(models.Review{Rating: 3.5}))
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "image_url", toSnake("ImageURL"))
	assert.Equal(t, "promo_price", toSnake("PromoPrice"))
	assert.Equal(t, "name", toSnake("Name"))
}
