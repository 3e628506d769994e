package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hospital.org/internal/ids"
)

const (
	// StateCookie carries the signed state between redirect and callback.
	StateCookie = "oauth_state"

	stateIssuer     = "hospital/oauth-state"
	defaultStateTTL = 5 * time.Minute
)

// ErrInvalidState is returned when the callback state is missing, forged,
// expired or issued for another provider.
var ErrInvalidState = errors.New("invalid oauth state")

// StateCodec signs and checks the short-lived OAuth state parameter. The
// value has no uid claim and a distinct issuer so it never passes as a
// session token.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateCodec(secret []byte, ttl time.Duration, now func() time.Time) *StateCodec {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateCodec{secret: append([]byte(nil), secret...), ttl: ttl, now: now}
}

// Issue returns a fresh state bound to the provider registration id.
func (c *StateCodec) Issue(provider string) (string, error) {
	now := c.now().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Audience:  jwt.ClaimStrings{provider},
		ID:        ids.New(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks the signature, expiry and provider binding.
func (c *StateCodec) Verify(state, provider string) error {
	if state == "" {
		return ErrInvalidState
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !slices.Contains(claims.Audience, provider) {
		return fmt.Errorf("%w: issued for another provider", ErrInvalidState)
	}
	return nil
}

// SetCookie stores the state for the callback to compare against.
func (c *StateCodec) SetCookie(w http.ResponseWriter, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/auth/oauth2",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CheckCallback verifies the state query parameter against the cookie and
// clears the cookie.
func (c *StateCodec) CheckCallback(w http.ResponseWriter, r *http.Request, provider string) error {
	cookie, err := r.Cookie(StateCookie)
	http.SetCookie(w, &http.Cookie{Name: StateCookie, Value: "", Path: "/auth/oauth2", MaxAge: -1, HttpOnly: true})
	if err != nil {
		return ErrInvalidState
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != cookie.Value {
		return ErrInvalidState
	}
	return c.Verify(state, provider)
}
