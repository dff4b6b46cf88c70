package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/config"
	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/relay"
)

// CustomClaims defines the structure of the JWT claims issued at login.
// The 'jti' (JWT ID) from RegisteredClaims is used for token revocation.
type CustomClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityResolver maps a connection credential to a user.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) *relay.Identity
}

// JWTResolver resolves identities from HMAC signed tokens.
type JWTResolver struct {
	cfg         *config.AuthConfig
	redisClient *redis.Client
}

// NewJWTResolver creates a resolver. redisClient may be nil, in which case
// revocation is not checked.
func NewJWTResolver(cfg *config.AuthConfig, redisClient *redis.Client) *JWTResolver {
	return &JWTResolver{
		cfg:         cfg,
		redisClient: redisClient,
	}
}

// Resolve returns the identity carried by credential, or nil when the
// credential is absent, invalid, expired or revoked. A nil identity means
// the connection proceeds as a guest; it is never rejected.
func (v *JWTResolver) Resolve(ctx context.Context, credential string) *relay.Identity {
	if !v.cfg.Enabled || credential == "" {
		return nil
	}
	claims, err := v.ValidateToken(ctx, credential)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(failureReason(err)).Inc()
		glog.V(1).Infof("[auth]token rejected: %v", err)
		return nil
	}
	metrics.AuthSuccess.Inc()

	id := &relay.Identity{UserID: claims.UserID, DisplayName: claims.Username}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return nil
	}
	return id
}

var errRevoked = errors.New("token has been revoked")

// ValidateToken parses and validates a JWT string. It checks the signature,
// standard claims (like expiration), and the revocation list in Redis.
func (v *JWTResolver) ValidateToken(ctx context.Context, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse/validation error: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	isRevoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// fail open so a Redis outage does not turn every user into a guest
		glog.Errorf("[auth]failed to check token revocation status: %v", err)
	}
	if isRevoked {
		return nil, errRevoked
	}
	return claims, nil
}

// isTokenRevoked checks if a token ID (JTI) is in the Redis revocation list.
func (v *JWTResolver) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redisClient == nil || jti == "" {
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", v.cfg.RevocationListKey, jti)
	exists, err := v.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis command failed: %w", err)
	}
	return exists == 1, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errRevoked):
		return "revoked"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	default:
		return "invalid"
	}
}

// credential extracts the token from the query string or, failing that, a
// bearer Authorization header.
func credential(r *http.Request, queryParam string) string {
	if token := r.URL.Query().Get(queryParam); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
