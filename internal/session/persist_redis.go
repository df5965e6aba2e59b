package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"bookmarket/pkg/domain"
)

// RedisPersister keeps the session in Redis, keyed by device. Used by kiosk
// deployments where several storefront processes on the same terminal share
// one signed-in identity.
type RedisPersister struct {
	client   *redis.Client
	deviceID string
	ttl      time.Duration
}

// NewRedisPersister builds a Redis-backed persister for the given device.
func NewRedisPersister(addr, password, deviceID string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		deviceID: deviceID,
		ttl:      ttl,
	}
}

func (p *RedisPersister) key() string {
	return "storefront:session:" + p.deviceID
}

func (p *RedisPersister) Save(s domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return p.client.Set(ctx, p.key(), data, p.ttl).Err()
}

func (p *RedisPersister) Load() (domain.Session, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := p.client.Get(ctx, p.key()).Result()
	if err == redis.Nil {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return domain.Session{}, false, nil
	}
	if !s.Valid() {
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

func (p *RedisPersister) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.client.Del(ctx, p.key()).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
