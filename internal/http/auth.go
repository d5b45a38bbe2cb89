package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   Role
	Name   string
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator verifies bearer tokens signed with RS256 when a public key
// is configured and HS256 otherwise.
type Authenticator struct {
	key    interface{}
	method string
}

func NewAuthenticator(publicKeyPEM, secret string) (*Authenticator, error) {
	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(strings.ReplaceAll(publicKeyPEM, `\n`, "\n")))
		if err != nil {
			return nil, errors.Wrap(err, "parse JWT_PUBLIC_KEY")
		}
		return &Authenticator{key: key, method: jwt.SigningMethodRS256.Alg()}, nil
	}
	if secret != "" {
		return &Authenticator{key: []byte(secret), method: jwt.SigningMethodHS256.Alg()}, nil
	}
	return nil, errors.New("either JWT_PUBLIC_KEY or JWT_SECRET must be set")
}

func (a *Authenticator) Authenticate(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{a.method}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, domain.ErrUnauthorized.WithMessage("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, domain.ErrUnauthorized.WithMessage("token subject is not a user id")
	}
	role := Role(claims.Role)
	switch role {
	case "":
		role = RoleUser
	case RoleUser, RoleOrganizer, RoleAdmin:
	default:
		return Identity{}, domain.ErrUnauthorized.WithMessagef("unknown role %q", claims.Role)
	}
	return Identity{UserID: userID, Role: role, Name: claims.Name}, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, domain.ErrUnauthorized.WithMessage("missing bearer token"))
			return
		}
		id, err := a.Authenticate(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, r, domain.ErrUnauthorized)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, domain.ErrForbidden.WithMessagef("role %s is not allowed here", id.Role))
		})
	}
}
