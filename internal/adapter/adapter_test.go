package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCard_Last4(t *testing.T) {
	assert.Equal(t, "1111", Card{Number: "4111111111111111"}.Last4())
	assert.Equal(t, "123", Card{Number: "123"}.Last4())
}

func TestFailed(t *testing.T) {
	o := Failed("E1", "declined", true)
	assert.False(t, o.Succeeded())
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, "E1", o.Code)
	assert.Equal(t, "declined", o.ErrorDetail)
	assert.True(t, o.Transient)
	assert.Empty(t, o.ProviderReference)
}
