package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/windfall/pronunciation_service/internal/client"
	"github.com/windfall/pronunciation_service/internal/model"
)

// AudioCache stores synthesized reference audio.
type AudioCache interface {
	Get(ctx context.Context, key string) (*model.SynthesizedAudio, error)
	Set(ctx context.Context, key string, audio *model.SynthesizedAudio, ttl time.Duration) error
}

// AudioCacheKey derives a cache key from the vendor and the spoken text.
func AudioCacheKey(vendor, text string) string {
	sum := sha256.Sum256([]byte(vendor + "\x00" + text))
	return vendor + ":" + hex.EncodeToString(sum[:])
}

// MemoryAudioCache implements AudioCache in process memory.
type MemoryAudioCache struct {
	store *memoryStore[model.SynthesizedAudio]
}

// NewMemoryAudioCache creates a new in-memory audio cache.
func NewMemoryAudioCache() *MemoryAudioCache {
	return &MemoryAudioCache{store: newMemoryStore[model.SynthesizedAudio]()}
}

func (c *MemoryAudioCache) Get(ctx context.Context, key string) (*model.SynthesizedAudio, error) {
	a, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *MemoryAudioCache) Set(ctx context.Context, key string, audio *model.SynthesizedAudio, ttl time.Duration) error {
	c.store.Set(key, *audio, ttl)
	return nil
}

// RedisAudioCache implements AudioCache on Redis.
type RedisAudioCache struct {
	redis *client.RedisClient
}

// NewRedisAudioCache creates a new RedisAudioCache.
func NewRedisAudioCache(redis *client.RedisClient) *RedisAudioCache {
	return &RedisAudioCache{redis: redis}
}

const ttsKeyPrefix = "pron:tts:"

type cachedAudio struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func (c *RedisAudioCache) Get(ctx context.Context, key string) (*model.SynthesizedAudio, error) {
	b, err := c.redis.Get(ctx, ttsKeyPrefix+key)
	if err != nil {
		return nil, notFound(err)
	}
	var a cachedAudio
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to decode cached audio: %w", err)
	}
	return &model.SynthesizedAudio{Data: a.Data, MIMEType: a.MIMEType}, nil
}

func (c *RedisAudioCache) Set(ctx context.Context, key string, audio *model.SynthesizedAudio, ttl time.Duration) error {
	data, err := json.Marshal(cachedAudio{MIMEType: audio.MIMEType, Data: audio.Data})
	if err != nil {
		return fmt.Errorf("failed to marshal audio: %w", err)
	}
	return c.redis.Set(ctx, ttsKeyPrefix+key, data, ttl)
}
