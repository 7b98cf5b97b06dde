package validation

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	v.SetTagName("binding")
	require.NoError(t, Register(v))
	return v
}

func TestCardNumberTag(t *testing.T) {
	v := newValidator(t)
	valid := []string{"4111111111111111", "4111 1111 1111 1111", "378282246310005", "5555555555554444"}
	for _, n := range valid {
		assert.NoError(t, v.Var(n, "credit_card"), n)
	}
	invalid := []string{"", "4111111111111112", "4111-1111-1111-1111", "abcd", "4111"}
	for _, n := range invalid {
		assert.Error(t, v.Var(n, "credit_card"), n)
	}
}

func TestExpiryValid(t *testing.T) {
	at := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, ExpiryValid(6, 2025, at), "current month is still valid")
	assert.True(t, ExpiryValid(1, 2026, at))
	assert.False(t, ExpiryValid(5, 2025, at))
	assert.False(t, ExpiryValid(12, 2024, at))
	assert.False(t, ExpiryValid(13, 2030, at))
	assert.False(t, ExpiryValid(0, 2030, at))
}

func TestCVVMatchesBrand(t *testing.T) {
	assert.True(t, CVVMatchesBrand("378282246310005", "1234"))
	assert.False(t, CVVMatchesBrand("378282246310005", "123"))
	assert.True(t, CVVMatchesBrand("4111111111111111", "123"))
	assert.False(t, CVVMatchesBrand("4111111111111111", "1234"))
	assert.True(t, IsAmex("34 0000 0000 00009"))
}

func TestCardStructValidation(t *testing.T) {
	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC) }
	v := newValidator(t)

	require.NoError(t, v.Struct(Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "123"}))
	require.NoError(t, v.Struct(Card{Number: "378282246310005", ExpMonth: 12, ExpYear: 2030, CVV: "1234"}))

	tests := []struct {
		name  string
		card  Card
		field string
	}{
		{"bad luhn", Card{Number: "4111111111111112", ExpMonth: 12, ExpYear: 2030, CVV: "123"}, "Number"},
		{"expired", Card{Number: "4111111111111111", ExpMonth: 1, ExpYear: 2024, CVV: "123"}, "ExpYear"},
		{"amex with 3 digit cvv", Card{Number: "378282246310005", ExpMonth: 12, ExpYear: 2030, CVV: "123"}, "CVV"},
		{"visa with 4 digit cvv", Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "1234"}, "CVV"},
		{"month out of range", Card{Number: "4111111111111111", ExpMonth: 13, ExpYear: 2030, CVV: "123"}, "ExpMonth"},
		{"non-digit cvv", Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "12a"}, "CVV"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.card)
			require.Error(t, err)
			assert.Contains(t, FieldErrors(err), tt.field)
		})
	}
}

func TestLast4Tag(t *testing.T) {
	v := newValidator(t)
	type refund struct {
		Last4 string `binding:"omitempty,last4"`
	}
	assert.NoError(t, v.Struct(refund{Last4: "1111"}))
	assert.NoError(t, v.Struct(refund{}))

	for _, bad := range []string{"11", "11111", "11a1", "+111"} {
		err := v.Struct(refund{Last4: bad})
		require.Error(t, err, bad)
		assert.Equal(t, "must be exactly 4 digits", FieldErrors(err)["Last4"], bad)
	}
}

func TestFieldErrors_NonValidationError(t *testing.T) {
	fe := FieldErrors(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), fe["body"])
}

func TestRegisterWithGin(t *testing.T) {
	assert.NoError(t, RegisterWithGin())
}
