package state

import (
	"context"
	"testing"
	"time"

	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v9"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return NewServiceFromClient(client), server
}

func TestSaveSummary(t *testing.T) {
	service, server := testService(t)
	ctx := context.Background()

	result := sessions.Result{
		SessionID: "abc-123",
		Mode:      sessions.ModeStandard,
		Status:    "completed",
		Score:     60,
		Duration:  90 * time.Second,
	}

	require.NoError(t, service.SaveSummary(ctx, result))

	summary, err := service.GetSummary(ctx, "abc-123")
	require.NoError(t, err)
	require.Equal(t, "abc-123", summary.SessionID)
	require.Equal(t, "standard", summary.Mode)
	require.Equal(t, "completed", summary.Status)
	require.Equal(t, 60, summary.Score)
	require.False(t, summary.EndedAt.IsZero())

	// Summaries expire
	server.FastForward(SUMMARY_TTL + time.Minute)
	_, err = service.GetSummary(ctx, "abc-123")
	require.ErrorIs(t, err, Nil)
}

func TestGetSummaryMissing(t *testing.T) {
	service, _ := testService(t)

	_, err := service.GetSummary(context.Background(), "never-played")
	require.ErrorIs(t, err, Nil)
}
