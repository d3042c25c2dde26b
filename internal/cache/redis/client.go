package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl == 0 {
		ttl = time.Hour
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetAnalysis caches a completed record by id.
func (c *Client) SetAnalysis(ctx context.Context, rec *analysis.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = c.client.Set(ctx, analysisKey(rec.ID), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}

	logger.Debug("Analysis cached", zap.String("analysis_id", rec.ID))
	return nil
}

// GetAnalysis returns the cached record, or found=false on a miss.
func (c *Client) GetAnalysis(ctx context.Context, id string) (*analysis.Record, bool, error) {
	data, err := c.client.Get(ctx, analysisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	var rec analysis.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}

	logger.Debug("Analysis cache hit", zap.String("analysis_id", id))
	return &rec, true, nil
}

// InvalidateAnalysis drops a cached record, used after artifact
// regeneration changes what a read would return.
func (c *Client) InvalidateAnalysis(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, analysisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate analysis cache: %w", err)
	}
	return nil
}

func analysisKey(id string) string {
	return fmt.Sprintf("analysis:%s", id)
}
