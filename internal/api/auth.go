package api

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"emails-sync/internal/models"
	"emails-sync/internal/syncerr"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Authorization modes
const (
	AuthStatic = "static"
	AuthJWT    = "jwt"
)

// Authorizer checks the bearer credential of an invocation before any mailbox
// or store state is touched.
type Authorizer struct {
	mode   string
	token  []byte
	secret []byte
	issuer string
}

// NewAuthorizer validates the auth settings
func NewAuthorizer(cfg models.AuthConfig) (*Authorizer, error) {
	a := &Authorizer{
		mode:   strings.ToLower(strings.TrimSpace(cfg.Mode)),
		token:  []byte(cfg.Token),
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
	if a.mode == "" {
		a.mode = AuthStatic
	}

	switch a.mode {
	case AuthStatic:
		if len(a.token) == 0 {
			return nil, &syncerr.ConfigError{Field: "auth.token", Message: "required in static mode"}
		}
	case AuthJWT:
		if len(a.secret) == 0 {
			return nil, &syncerr.ConfigError{Field: "auth.secret", Message: "required in jwt mode"}
		}
	default:
		return nil, &syncerr.ConfigError{Field: "auth.mode", Message: fmt.Sprintf("unknown mode %q (want static or jwt)", cfg.Mode)}
	}

	return a, nil
}

// Verify checks an Authorization header value ("Bearer <credential>")
func (a *Authorizer) Verify(header string) error {
	if header == "" {
		return &syncerr.AuthError{Message: "missing authorization header"}
	}

	scheme, credential, ok := strings.Cut(strings.TrimSpace(header), " ")
	credential = strings.TrimSpace(credential)
	if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
		return &syncerr.AuthError{Message: "expected a bearer credential"}
	}

	if a.mode == AuthJWT {
		return a.verifyJWT(credential)
	}

	if subtle.ConstantTimeCompare([]byte(credential), a.token) != 1 {
		return &syncerr.AuthError{Message: "invalid credential"}
	}
	return nil
}

func (a *Authorizer) verifyJWT(credential string) error {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	if _, err := jwt.Parse([]byte(credential), opts...); err != nil {
		return &syncerr.AuthError{Message: fmt.Sprintf("invalid token: %v", err)}
	}
	return nil
}
