// Package state keeps best-effort summaries of finished games in redis.
// Failures here are logged by callers and never affect a session's outcome.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/config"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"

	"github.com/go-redis/redis/v9"
)

const (
	KEY_GAME_SUMMARY = "game-summary-%s"

	SUMMARY_TTL = 24 * time.Hour
)

const Nil = redis.Nil

type Summary struct {
	SessionID string
	Mode      string
	Status    string
	Score     int
	Duration  time.Duration
	EndedAt   time.Time
}

type Service struct {
	client *redis.Client
}

func NewService(settings config.RedisSettings) *Service {
	return &Service{
		client: redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
		}),
	}
}

func NewServiceFromClient(client *redis.Client) *Service {
	return &Service{client: client}
}

// SaveSummary implements sessions.SummarySink.
func (s *Service) SaveSummary(ctx context.Context, result sessions.Result) error {
	summary := Summary{
		SessionID: result.SessionID,
		Mode:      result.Mode.String(),
		Status:    result.Status,
		Score:     result.Score,
		Duration:  result.Duration,
		EndedAt:   time.Now(),
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	return s.client.Set(
		ctx,
		fmt.Sprintf(KEY_GAME_SUMMARY, result.SessionID),
		data,
		SUMMARY_TTL,
	).Err()
}

func (s *Service) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	data, err := s.client.Get(
		ctx,
		fmt.Sprintf(KEY_GAME_SUMMARY, sessionID),
	).Result()
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, err
	}

	return &summary, nil
}
