// file: db/redis.go

package db

import (
	"context"
	"fmt"
	"go-admission-api/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis initializes and pings a new Redis client.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*redis.Client, error) {
	redisAddr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.WithError(err).Error("Failed to ping Redis")
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.WithField("address", redisAddr).Info("Redis connection established successfully")
	return rdb, nil
}
