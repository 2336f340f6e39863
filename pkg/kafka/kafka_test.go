package kafka

import (
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Index string `json:"index"`
	ID    string `json:"id"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"index":"products","id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, sample{Index: "products", ID: "42"}, got)

	_, err = DecodeJSON[sample]([]byte(`{"index":`))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindData, apperrors.Classify(err))
}
