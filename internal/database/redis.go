package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients holds the two connections the service uses: Feed reads the
// indexing status that the document-processing collaborator writes, Events
// publishes authoring notifications.
type RedisClients struct {
	Feed   *redis.Client
	Events *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feedClient := redis.NewClient(opt)
	if err := feedClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis (feed): %w", err)
	}

	eventsOpt := *opt
	eventsClient := redis.NewClient(&eventsOpt)
	if err := eventsClient.Ping(ctx).Err(); err != nil {
		feedClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (events): %w", err)
	}

	return &RedisClients{
		Feed:   feedClient,
		Events: eventsClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Feed.Close()
	r.Events.Close()
}
