// Package validation holds the card checks applied to API requests before
// they reach the orchestrator, registered as go-playground/validator rules
// on gin's binding engine.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Card is the card payload accepted by purchase and authorize.
type Card struct {
	Number   string `json:"number" binding:"required,credit_card"`
	ExpMonth int    `json:"expMonth" binding:"required,min=1,max=12"`
	ExpYear  int    `json:"expYear" binding:"required,min=2000"`
	CVV      string `json:"cvv" binding:"required,number,min=3,max=4"`
}

// Last4Tag is the alias for the card's last four digits.
const Last4Tag = "last4"

// now is replaced in tests.
var now = time.Now

// CleanNumber strips whitespace from a card number.
func CleanNumber(number string) string {
	return strings.Join(strings.Fields(number), "")
}

// IsAmex reports whether number belongs to American Express (prefix 34 or 37).
func IsAmex(number string) bool {
	digits := CleanNumber(number)
	return strings.HasPrefix(digits, "34") || strings.HasPrefix(digits, "37")
}

// ExpiryValid reports whether a card expiring at the end of month/year is
// still valid at t.
func ExpiryValid(month, year int, t time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year != t.Year() {
		return year > t.Year()
	}
	return month >= int(t.Month())
}

// CVVMatchesBrand reports whether cvv has the length the card brand uses:
// four digits for American Express, three for everyone else.
func CVVMatchesBrand(number, cvv string) bool {
	if IsAmex(number) {
		return len(cvv) == 4
	}
	return len(cvv) == 3
}

func cardStructLevel(sl validator.StructLevel) {
	card, ok := sl.Current().Interface().(Card)
	if !ok {
		return
	}
	if !ExpiryValid(card.ExpMonth, card.ExpYear, now()) {
		sl.ReportError(card.ExpYear, "ExpYear", "ExpYear", "card_expiry", "")
	}
	if !CVVMatchesBrand(card.Number, card.CVV) {
		sl.ReportError(card.CVV, "CVV", "CVV", "cvv_brand", "")
	}
}

// Register adds the card rules to v. Number format and checksum use the
// validator's own credit_card and number tags.
func Register(v *validator.Validate) error {
	if v == nil {
		return errors.New("validator is nil")
	}
	v.RegisterAlias(Last4Tag, "len=4,number")
	v.RegisterStructValidation(cardStructLevel, Card{})
	return nil
}

// RegisterWithGin adds the card rules to gin's default validator.
func RegisterWithGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	return Register(v)
}

var messages = map[string]string{
	"required":    "is required",
	"credit_card": "is not a valid card number",
	"last4":       "must be exactly 4 digits",
	"card_expiry": "card is expired or the expiry date is invalid",
	"cvv_brand":   "length does not match the card brand",
	"number":      "must contain digits only",
	"numeric":     "must contain digits only",
}

// FieldErrors turns validator errors into field -> message pairs suitable
// for an API response. Other errors are returned under "body".
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		out[fieldPath(fe.Namespace())] = msg
	}
	return out
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
