package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

const (
	// DefaultTokenTTL bounds how long a minted media token stays usable. Long
	// enough for a carrier to bridge the media leg, short enough that leaked
	// URLs go stale quickly.
	DefaultTokenTTL = 5 * time.Minute

	tokenKeyPrefix = "media_token:"
)

// TokenManager mints and verifies the short-lived tokens that gate the media
// WebSocket. A token is bound to one call id. When a redis client is
// configured, minted token ids are mirrored with a TTL so any engine node can
// verify and revoke; without redis, verification is purely cryptographic.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	rdb    *redis.Client
}

func NewTokenManager(secret []byte, ttl time.Duration, rdb *redis.Client) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{secret: secret, ttl: ttl, rdb: rdb}
}

// Mint issues a token bound to callID.
func (tm *TokenManager) Mint(ctx context.Context, callID string) (string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub": callID,
		"jti": jti,
		"iat": now.Unix(),
		"exp": now.Add(tm.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", err
	}
	if tm.rdb != nil {
		if err := tm.rdb.Set(ctx, tokenKeyPrefix+jti, callID, tm.ttl).Err(); err != nil {
			return "", err
		}
	}
	return token, nil
}

// Verify checks signature, expiry, and the call binding; with redis, also
// that the token has not been revoked.
func (tm *TokenManager) Verify(ctx context.Context, token, callID string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !parsed.Valid {
		return errorsx.Wrap(errors.New("invalid media token"), errorsx.KindAuth, errorsx.ReasonMediaTokenInvalid)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errorsx.Wrap(errors.New("malformed claims"), errorsx.KindAuth, errorsx.ReasonMediaTokenInvalid)
	}
	sub, _ := claims["sub"].(string)
	if sub != callID {
		return errorsx.Wrap(errors.New("token not bound to call"), errorsx.KindAuth, errorsx.ReasonMediaTokenInvalid)
	}
	if tm.rdb != nil {
		jti, _ := claims["jti"].(string)
		n, err := tm.rdb.Exists(ctx, tokenKeyPrefix+jti).Result()
		if err == nil && n == 0 {
			return errorsx.Wrap(errors.New("token revoked"), errorsx.KindAuth, errorsx.ReasonMediaTokenInvalid)
		}
	}
	return nil
}

// Revoke drops a token's redis mirror so it can no longer be used. No-op
// without redis.
func (tm *TokenManager) Revoke(ctx context.Context, token string) {
	if tm.rdb == nil {
		return
	}
	parsed, _ := jwt.Parse(token, func(t *jwt.Token) (any, error) { return tm.secret, nil })
	if parsed == nil {
		return
	}
	if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
		if jti, _ := claims["jti"].(string); jti != "" {
			_ = tm.rdb.Del(ctx, tokenKeyPrefix+jti).Err()
		}
	}
}
