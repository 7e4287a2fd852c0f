package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nocturnesec/gatekit"
)

var (
	// ErrBackend is an exported constant or variable used by the session service.
	ErrBackend = errors.New("session backend unavailable")
	// ErrNotFound is an exported constant or variable used by the session service.
	ErrNotFound = errors.New("session not found")
	// ErrTokenInvalid is an exported constant or variable used by the session service.
	ErrTokenInvalid = errors.New("invalid access token")
)

// Config tunes the Redis session service.
type Config struct {
	Prefix    string
	Issuer    string
	AccessTTL time.Duration
	// SessionTTL is the default session lifetime; RememberTTL applies when
	// the login asked to remember the device.
	SessionTTL  time.Duration
	RememberTTL time.Duration
	// SigningKey is the HS256 secret for access tokens. Must be at least
	// 32 bytes.
	SigningKey []byte
	// SingleSession revokes all other sessions for the user on login.
	SingleSession bool
}

// record is the stored session state.
type record struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service is a Redis-backed [gatekit.SessionService]: opaque refresh
// tokens, HS256 access tokens, and a per-user session index for revocation.
type Service struct {
	redis redis.UniversalClient
	cfg   Config
}

// New validates cfg and returns a Service.
func New(redisClient redis.UniversalClient, cfg Config) (*Service, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("session signing key must be at least 32 bytes")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "sess"
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "gatekit"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = 30 * 24 * time.Hour
	}
	return &Service{
		redis: redisClient,
		cfg:   cfg,
	}, nil
}

func (s *Service) key(sessionID string) string {
	return s.cfg.Prefix + ":" + sessionID
}

func (s *Service) userKey(userID string) string {
	return s.cfg.Prefix + ":u:" + userID
}

// CompleteLogin mints a session once the auth transaction reaches its
// terminal success state.
func (s *Service) CompleteLogin(ctx context.Context, user *gatekit.User, opts gatekit.SessionOptions) (*gatekit.Session, error) {
	if user == nil {
		return nil, errors.New("nil user")
	}

	if s.cfg.SingleSession {
		if err := s.Revoke(ctx, user.UserID); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.NewString()

	ttl := s.cfg.SessionTTL
	if opts.RememberDevice {
		ttl = s.cfg.RememberTTL
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	encoded, err := json.Marshal(record{
		UserID:    user.UserID,
		TenantID:  user.TenantID,
		IP:        opts.IP,
		UserAgent: opts.UserAgent,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.key(sessionID), encoded, ttl)
	pipe.SAdd(ctx, s.userKey(user.UserID), sessionID)
	pipe.Expire(ctx, s.userKey(user.UserID), s.cfg.RememberTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	refreshToken, err := newRefreshToken(sessionID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.signAccessToken(user, sessionID, now)
	if err != nil {
		return nil, err
	}

	return &gatekit.Session{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// Revoke removes the given sessions, or every session for the user when no
// ids are passed.
func (s *Service) Revoke(ctx context.Context, userID string, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		var err error
		sessionIDs, err = s.redis.SMembers(ctx, s.userKey(userID)).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if len(sessionIDs) == 0 {
			return nil
		}
	}

	keys := make([]string, len(sessionIDs))
	members := make([]interface{}, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = s.key(id)
		members[i] = id
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.userKey(userID), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get loads a live session record.
func (s *Service) Get(ctx context.Context, sessionID string) (userID, tenantID string, err error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", "", err
	}
	return rec.UserID, rec.TenantID, nil
}

// ActiveSessionIDs lists the user's live sessions.
func (s *Service) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ids, nil
}

// Validate parses an access token and confirms its session still exists.
func (s *Service) Validate(ctx context.Context, accessToken string) (userID, sessionID string, err error) {
	token, err := jwt.Parse(accessToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.cfg.SigningKey, nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", "", ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrTokenInvalid
	}
	userID, _ = claims["sub"].(string)
	sessionID, _ = claims["sid"].(string)
	if userID == "" || sessionID == "" {
		return "", "", ErrTokenInvalid
	}

	if _, _, err := s.Get(ctx, sessionID); err != nil {
		return "", "", err
	}
	return userID, sessionID, nil
}

func (s *Service) signAccessToken(user *gatekit.User, sessionID string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.cfg.Issuer,
		"sub": user.UserID,
		"sid": sessionID,
		"tid": user.TenantID,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.AccessTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

func newRefreshToken(sessionID string) (string, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	raw := append([]byte(sessionID+"."), secret[:]...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
