package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

const actorContextKey = "actor"

// ActorLookup resolves the actor named by a token subject
type ActorLookup interface {
	GetByID(ctx context.Context, id string) (*entity.Actor, error)
}

// Claims are the JWT claims accepted by the API. The subject is the actor ID;
// role and projects are always read from the actor store, never the token.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens and loads the calling actor
type Authenticator struct {
	secret []byte
	issuer string
	actors ActorLookup
	logger Logger
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(secret, issuer string, actors ActorLookup, logger Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		actors: actors,
		logger: logger,
	}
}

// IssueToken signs a token for actorID valid for ttl
func (a *Authenticator) IssueToken(actorID string, ttl time.Duration) (string, error) {
	return IssueToken(string(a.secret), a.issuer, actorID, ttl)
}

// IssueToken signs an HS256 token whose subject is actorID
func IssueToken(secret, issuer, actorID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt: secret is empty")
	}
	if actorID == "" {
		return "", fmt.Errorf("jwt: subject is empty")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates the signature, expiry and issuer and returns the subject
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware authenticates the request and stores the actor in the context.
// The token comes from the Authorization header, or from the token query
// parameter when allowQuery is set (browsers cannot set headers on websockets).
func (a *Authenticator) Middleware(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid authorization format, expected 'Bearer <token>'")
				return
			}
			tokenString = strings.TrimSpace(parts[1])
		} else if allowQuery {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "authorization is missing")
			return
		}

		actorID, err := a.ParseToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}

		actor, err := a.actors.GetByID(c.Request.Context(), actorID)
		if err != nil {
			a.logger.Error("Failed to load actor", "actor_id", actorID, "error", err)
			abort(c, http.StatusInternalServerError, "INTERNAL", "failed to load actor")
			return
		}
		if actor == nil {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "unknown actor")
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// currentActor returns the actor stored by Middleware
func currentActor(c *gin.Context) *entity.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(*entity.Actor); ok {
			return actor
		}
	}
	return nil
}

// RequireToken guards trusted collaborator endpoints with a shared token
// sent in header. An empty expected token disables the endpoint.
func RequireToken(header, expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			abort(c, http.StatusServiceUnavailable, "DISABLED", "endpoint is not configured")
			return
		}
		if !constantTimeEqual(c.GetHeader(header), expected) {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid "+header)
			return
		}
		c.Next()
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
