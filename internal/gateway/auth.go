package gateway

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrUnauthorized is returned for a gesture with a missing or wrong one-time code.
var ErrUnauthorized = errors.New("gesture not authorized")

// GestureAuth guards range gestures with a TOTP code. A nil or empty-secret
// GestureAuth lets everything through.
type GestureAuth struct {
	secret string
	now    func() time.Time
}

// NewGestureAuth creates a guard for a base32 TOTP secret.
func NewGestureAuth(secret string) *GestureAuth {
	return &GestureAuth{secret: secret, now: time.Now}
}

// Enabled reports whether codes are checked.
func (a *GestureAuth) Enabled() bool {
	return a != nil && a.secret != ""
}

// Check validates code against the current 30s window, allowing one step of skew.
func (a *GestureAuth) Check(code string) error {
	if !a.Enabled() {
		return nil
	}
	if code == "" {
		return ErrUnauthorized
	}
	ok, err := totp.ValidateCustom(code, a.secret, a.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return ErrUnauthorized
	}
	return nil
}
