package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/windfall/pronunciation_service/internal/client"
	"github.com/windfall/pronunciation_service/internal/model"
)

// SessionRepository stores the mock identity state: pending OTP codes,
// users, consumed activation codes and open sessions.
type SessionRepository interface {
	SaveOTP(ctx context.Context, phone, code string, ttl time.Duration) error
	GetOTP(ctx context.Context, phone string) (string, error)
	DeleteOTP(ctx context.Context, phone string) error

	GetUser(ctx context.Context, identifier string) (*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error

	// ClaimActivationCode marks code as used by identifier and reports
	// whether it was still free.
	ClaimActivationCode(ctx context.Context, code, identifier string) (bool, error)

	CreateSession(ctx context.Context, session *model.Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// MemorySessionRepository implements SessionRepository in process memory.
type MemorySessionRepository struct {
	otps        *memoryStore[string]
	users       *memoryStore[model.User]
	activations *memoryStore[string]
	sessions    *memoryStore[model.Session]
}

// NewMemorySessionRepository creates a new in-memory session repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		otps:        newMemoryStore[string](),
		users:       newMemoryStore[model.User](),
		activations: newMemoryStore[string](),
		sessions:    newMemoryStore[model.Session](),
	}
}

func (r *MemorySessionRepository) SaveOTP(ctx context.Context, phone, code string, ttl time.Duration) error {
	r.otps.Set(phone, code, ttl)
	return nil
}

func (r *MemorySessionRepository) GetOTP(ctx context.Context, phone string) (string, error) {
	return r.otps.Get(phone)
}

func (r *MemorySessionRepository) DeleteOTP(ctx context.Context, phone string) error {
	r.otps.Delete(phone)
	return nil
}

func (r *MemorySessionRepository) GetUser(ctx context.Context, identifier string) (*model.User, error) {
	u, err := r.users.Get(identifier)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MemorySessionRepository) SaveUser(ctx context.Context, user *model.User) error {
	r.users.Set(user.Identifier, *user, 0)
	return nil
}

func (r *MemorySessionRepository) ClaimActivationCode(ctx context.Context, code, identifier string) (bool, error) {
	if err := r.activations.Create(code, identifier, 0); err != nil {
		if stderrors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MemorySessionRepository) CreateSession(ctx context.Context, session *model.Session, ttl time.Duration) error {
	return r.sessions.Create(session.ID, *session, ttl)
}

func (r *MemorySessionRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, err := r.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MemorySessionRepository) DeleteSession(ctx context.Context, id string) error {
	r.sessions.Delete(id)
	return nil
}

// RedisSessionRepository implements SessionRepository on Redis.
type RedisSessionRepository struct {
	redis *client.RedisClient
}

// NewRedisSessionRepository creates a new RedisSessionRepository.
func NewRedisSessionRepository(redis *client.RedisClient) *RedisSessionRepository {
	return &RedisSessionRepository{redis: redis}
}

const (
	otpKeyPrefix        = "pron:otp:"
	userKeyPrefix       = "pron:user:"
	activationKeyPrefix = "pron:activation:"
	sessionKeyPrefix    = "pron:session:"
)

func (r *RedisSessionRepository) SaveOTP(ctx context.Context, phone, code string, ttl time.Duration) error {
	return r.redis.Set(ctx, otpKeyPrefix+phone, []byte(code), ttl)
}

func (r *RedisSessionRepository) GetOTP(ctx context.Context, phone string) (string, error) {
	b, err := r.redis.Get(ctx, otpKeyPrefix+phone)
	if err != nil {
		return "", notFound(err)
	}
	return string(b), nil
}

func (r *RedisSessionRepository) DeleteOTP(ctx context.Context, phone string) error {
	return r.redis.Del(ctx, otpKeyPrefix+phone)
}

func (r *RedisSessionRepository) GetUser(ctx context.Context, identifier string) (*model.User, error) {
	var u model.User
	if err := r.getJSON(ctx, userKeyPrefix+identifier, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *RedisSessionRepository) SaveUser(ctx context.Context, user *model.User) error {
	return r.setJSON(ctx, userKeyPrefix+user.Identifier, user, 0)
}

func (r *RedisSessionRepository) ClaimActivationCode(ctx context.Context, code, identifier string) (bool, error) {
	return r.redis.SetNX(ctx, activationKeyPrefix+code, []byte(identifier), 0)
}

func (r *RedisSessionRepository) CreateSession(ctx context.Context, session *model.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ok, err := r.redis.SetNX(ctx, sessionKeyPrefix+session.ID, data, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisSessionRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := r.getJSON(ctx, sessionKeyPrefix+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisSessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.redis.Del(ctx, sessionKeyPrefix+id)
}

func (r *RedisSessionRepository) getJSON(ctx context.Context, key string, v interface{}) error {
	b, err := r.redis.Get(ctx, key)
	if err != nil {
		return notFound(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (r *RedisSessionRepository) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return r.redis.Set(ctx, key, data, ttl)
}

func notFound(err error) error {
	if stderrors.Is(err, client.ErrCacheMiss) {
		return ErrNotFound
	}
	return err
}
