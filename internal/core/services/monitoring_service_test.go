package services

import (
	"context"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/internal/infrastructure/repositories/memory"
	"audiocast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	uaChromeDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	uaSafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaEdge          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Edg/120.0"
	uaOpera         = "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Safari/537.36 OPR/105.0"
	uaFirefoxTablet = "Mozilla/5.0 (Android 13; Tablet; rv:120.0) Gecko/120.0 Firefox/120.0"
)

func TestClassifyBrowser(t *testing.T) {
	assert.Equal(t, "Chrome", ClassifyBrowser(uaChromeDesktop))
	assert.Equal(t, "Safari", ClassifyBrowser(uaSafariIPhone))
	assert.Equal(t, "Edge", ClassifyBrowser(uaEdge))
	assert.Equal(t, "Opera", ClassifyBrowser(uaOpera))
	assert.Equal(t, "Firefox", ClassifyBrowser(uaFirefoxTablet))
	assert.Equal(t, "Unknown", ClassifyBrowser("curl/8.0"))
}

func TestClassifyDevice(t *testing.T) {
	assert.Equal(t, "Desktop", ClassifyDevice(uaChromeDesktop))
	assert.Equal(t, "Mobile", ClassifyDevice(uaSafariIPhone))
	assert.Equal(t, "Tablet", ClassifyDevice(uaFirefoxTablet))
}

func TestMonitoringService_Snapshot(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	utils.Now = func() time.Time { return fixed }
	defer func() { utils.Now = time.Now }()

	ctx := context.Background()
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())

	store := func(id domain.SessionID, user domain.UserID, ip, ua string, created, lastActive time.Duration) {
		generation, err := repo.NextGeneration(ctx, user)
		require.NoError(t, err)
		require.NoError(t, repo.CreateIfLatest(ctx, &domain.UserSession{
			ID:         id,
			UserID:     user,
			Generation: generation,
			CreatedAt:  fixed.Add(-created),
			LastActive: fixed.Add(-lastActive),
			UserAgent:  ua,
			IPAddress:  ip,
		}))
	}
	store("a", "u1", "198.51.100.1", uaChromeDesktop, time.Hour, 30*time.Second)
	store("b", "u2", "198.51.100.1", uaSafariIPhone, 3*time.Hour, 5*time.Minute)
	store("c", "u3", "198.51.100.9", uaFirefoxTablet, 10*time.Minute, 90*time.Second)

	service := NewMonitoringService(repo, 0, zaptest.NewLogger(t).Sugar())
	snapshot, err := service.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, MonitoringSummary{Active: 2, Total: 3, UniqueIPs: 2}, snapshot.Summary)

	require.Len(t, snapshot.Sessions, 3)
	assert.Equal(t, domain.SessionID("a"), snapshot.Sessions[0].ID)
	assert.Equal(t, domain.SessionID("c"), snapshot.Sessions[1].ID)
	assert.Equal(t, domain.SessionID("b"), snapshot.Sessions[2].ID)

	first := snapshot.Sessions[0]
	assert.True(t, first.Online)
	assert.Equal(t, "Chrome", first.Browser)
	assert.Equal(t, "Desktop", first.Device)
	assert.Equal(t, "30s ago", first.LastSeen)
	assert.Equal(t, int64(60), first.DurationMinutes)

	last := snapshot.Sessions[2]
	assert.False(t, last.Online)
	assert.Equal(t, "5m ago", last.LastSeen)
	assert.Equal(t, "Mobile", last.Device)
}

func TestMonitoringService_Watch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())
	service := NewMonitoringService(repo, time.Minute, zaptest.NewLogger(t).Sugar())

	totals := make(chan int, 16)
	unsubscribe, err := service.Watch(ctx, func(snapshot *MonitoringSnapshot) {
		totals <- snapshot.Summary.Total
	})
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, 0, <-totals)

	generation, err := repo.NextGeneration(ctx, "u1")
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, repo.CreateIfLatest(ctx, &domain.UserSession{
		ID: "s1", UserID: "u1", Generation: generation, CreatedAt: now, LastActive: now,
	}))

	assert.Eventually(t, func() bool {
		for {
			select {
			case total := <-totals:
				if total == 1 {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}
