package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pricesync/backend/internal/domain"
)

const offerKeyPrefix = "pricesync:offers:"

type RedisOfferCache struct {
	client *redis.Client
}

func NewRedisOfferCache(addr string, password string, db int) *RedisOfferCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOfferCache{client: client}
}

func (c *RedisOfferCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOfferCache) Close() error {
	return c.client.Close()
}

func (c *RedisOfferCache) Get(ctx context.Context, asin string) (*domain.CompetitiveOffers, bool, error) {
	val, err := c.client.Get(ctx, offerKeyPrefix+asin).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var offers domain.CompetitiveOffers
	if err := json.Unmarshal([]byte(val), &offers); err != nil {
		return nil, false, err
	}
	return &offers, true, nil
}

func (c *RedisOfferCache) Set(ctx context.Context, asin string, value *domain.CompetitiveOffers, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, offerKeyPrefix+asin, payload, ttl).Err()
}

func (c *RedisOfferCache) Delete(ctx context.Context, asin string) error {
	return c.client.Del(ctx, offerKeyPrefix+asin).Err()
}
