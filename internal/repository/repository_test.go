package repository

import (
	"context"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/windfall/pronunciation_service/internal/client"
	"github.com/windfall/pronunciation_service/internal/model"
)

func TestMemoryStore_Expiry(t *testing.T) {
	s := newMemoryStore[string]()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Set("a", "1", time.Minute)
	s.Set("b", "2", 0)

	if v, err := s.Get("a"); err != nil || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, err)
	}

	now = now.Add(time.Minute)
	if _, err := s.Get("a"); err != ErrNotFound {
		t.Errorf("expired Get(a) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("b"); err != nil {
		t.Errorf("Get(b) err = %v", err)
	}

	if err := s.Create("b", "3", 0); err != ErrAlreadyExists {
		t.Errorf("Create(b) err = %v, want ErrAlreadyExists", err)
	}
	if err := s.Create("a", "3", 0); err != nil {
		t.Errorf("Create over expired key err = %v", err)
	}
}

// exerciseSessionRepository runs the same contract against any implementation.
func exerciseSessionRepository(t *testing.T, repo SessionRepository) {
	ctx := context.Background()
	phone := "138" + uuid.NewString()[:8]

	if _, err := repo.GetOTP(ctx, phone); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("GetOTP before save err = %v", err)
	}
	if err := repo.SaveOTP(ctx, phone, "123456", time.Minute); err != nil {
		t.Fatalf("SaveOTP() error = %v", err)
	}
	if code, err := repo.GetOTP(ctx, phone); err != nil || code != "123456" {
		t.Errorf("GetOTP() = %q, %v", code, err)
	}
	repo.DeleteOTP(ctx, phone)
	if _, err := repo.GetOTP(ctx, phone); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("GetOTP after delete err = %v", err)
	}

	user := &model.User{Identifier: phone, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := repo.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	got, err := repo.GetUser(ctx, phone)
	if err != nil || got.Identifier != phone || got.Activated {
		t.Errorf("GetUser() = %+v, %v", got, err)
	}

	code := uuid.NewString()
	if ok, err := repo.ClaimActivationCode(ctx, code, phone); err != nil || !ok {
		t.Errorf("first claim = %v, %v", ok, err)
	}
	if ok, err := repo.ClaimActivationCode(ctx, code, "other"); err != nil || ok {
		t.Errorf("second claim = %v, %v", ok, err)
	}

	sess := &model.Session{ID: uuid.NewString(), Identifier: phone, CreatedAt: time.Now().UTC()}
	if err := repo.CreateSession(ctx, sess, time.Hour); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if s, err := repo.GetSession(ctx, sess.ID); err != nil || s.Identifier != phone {
		t.Errorf("GetSession() = %+v, %v", s, err)
	}
	if err := repo.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := repo.GetSession(ctx, sess.ID); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("GetSession after delete err = %v", err)
	}
}

func TestMemorySessionRepository(t *testing.T) {
	exerciseSessionRepository(t, NewMemorySessionRepository())
}

func TestRedisSessionRepository(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rc, err := client.NewRedisClient(url)
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer rc.Close()
	exerciseSessionRepository(t, NewRedisSessionRepository(rc))
}

func TestAudioCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryAudioCache()
	key := AudioCacheKey("xunfei", "hello")

	if key == AudioCacheKey("baidu", "hello") {
		t.Error("cache key does not depend on vendor")
	}
	if _, err := cache.Get(ctx, key); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("Get() before set err = %v", err)
	}
	if err := cache.Set(ctx, key, &model.SynthesizedAudio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := cache.Get(ctx, key)
	if err != nil || string(got.Data) != "mp3" || got.MIMEType != "audio/mpeg" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
}
