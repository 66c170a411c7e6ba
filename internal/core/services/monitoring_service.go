package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/pkg/utils"

	"go.uber.org/zap"
)

var (
	mobilePattern = regexp.MustCompile(`(?i)mobile`)
	tabletPattern = regexp.MustCompile(`(?i)tablet`)
)

// ClassifyBrowser names the browser family of a user agent. Edge and Opera
// also carry the Chrome token, so they are checked first.
func ClassifyBrowser(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Edg/") || strings.Contains(userAgent, "Edge"):
		return "Edge"
	case strings.Contains(userAgent, "OPR/") || strings.Contains(userAgent, "Opera"):
		return "Opera"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Safari"):
		return "Safari"
	}
	return "Unknown"
}

func ClassifyDevice(userAgent string) string {
	switch {
	case mobilePattern.MatchString(userAgent):
		return "Mobile"
	case tabletPattern.MatchString(userAgent):
		return "Tablet"
	}
	return "Desktop"
}

// SessionView is one row of the subscriber monitoring table.
type SessionView struct {
	*domain.UserSession
	Online          bool   `json:"online"`
	Browser         string `json:"browser"`
	Device          string `json:"device"`
	LastSeen        string `json:"last_seen"`
	DurationMinutes int64  `json:"duration_minutes"`
}

type MonitoringSummary struct {
	Active    int `json:"active"`
	Total     int `json:"total"`
	UniqueIPs int `json:"unique_ips"`
}

type MonitoringSnapshot struct {
	Sessions []SessionView     `json:"sessions"`
	Summary  MonitoringSummary `json:"summary"`
}

type MonitoringService struct {
	sessions     ports.SessionRepository
	activeWindow time.Duration
	logger       *zap.SugaredLogger
}

func NewMonitoringService(sessions ports.SessionRepository, activeWindow time.Duration, logger *zap.SugaredLogger) *MonitoringService {
	if activeWindow <= 0 {
		activeWindow = 2 * time.Minute
	}
	return &MonitoringService{
		sessions:     sessions,
		activeWindow: activeWindow,
		logger:       logger,
	}
}

func (s *MonitoringService) Snapshot(ctx context.Context) (*MonitoringSnapshot, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return s.build(sessions), nil
}

// Watch calls fn with a fresh snapshot whenever any session changes.
func (s *MonitoringService) Watch(ctx context.Context, fn func(*MonitoringSnapshot)) (ports.Unsubscribe, error) {
	return s.sessions.WatchAll(ctx, func(sessions []*domain.UserSession) {
		fn(s.build(sessions))
	})
}

func (s *MonitoringService) build(sessions []*domain.UserSession) *MonitoringSnapshot {
	sorted := make([]*domain.UserSession, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastActive.After(sorted[j].LastActive)
	})

	now := utils.Now()
	snapshot := &MonitoringSnapshot{Sessions: make([]SessionView, 0, len(sorted))}
	ips := make(map[string]struct{})

	for _, session := range sorted {
		online := now.Sub(session.LastActive) < s.activeWindow
		if online {
			snapshot.Summary.Active++
		}
		ips[session.IPAddress] = struct{}{}

		snapshot.Sessions = append(snapshot.Sessions, SessionView{
			UserSession:     session,
			Online:          online,
			Browser:         ClassifyBrowser(session.UserAgent),
			Device:          ClassifyDevice(session.UserAgent),
			LastSeen:        utils.FormatTimeAgo(session.LastActive),
			DurationMinutes: int64(now.Sub(session.CreatedAt) / time.Minute),
		})
	}

	snapshot.Summary.Total = len(sorted)
	snapshot.Summary.UniqueIPs = len(ips)
	return snapshot
}
