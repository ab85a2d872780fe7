package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create sale: %w", NewInsufficientStock("prd_1", 5, 2))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrAlreadyCancelled)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestInsufficientStockMessageIsActionable(t *testing.T) {
	err := NewInsufficientStock("prd_1", 5, 2)

	assert.Equal(t, "insufficient stock, 2 available", err.Message)
	assert.Equal(t, 2, err.Details["available"])
	assert.Equal(t, "prd_1", err.Details["product_id"])
}

func TestStorageErrorKeepsCauseButNotInMessage(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: connection refused")
	err := NewStorage(cause)

	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Message, "10.0.0.1")
	assert.False(t, IsDomain(err))
	assert.True(t, IsDomain(NewValidation("items", "at least one item is required")))
}

func TestHTTPStatusDefaultsToInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidation("discount", "negative")))
}
