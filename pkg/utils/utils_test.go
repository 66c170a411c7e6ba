package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("instance")
	id2 := GenerateID("instance")

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "instance_"))
	assert.Len(t, id1, len("instance_")+16)
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Skyler", "Skyler"},
		{"control chars", "Sky\x00ler\x07", "Skyler"},
		{"keeps tab", "a\tb", "a\tb"},
		{"trims", "  Skyler  ", "Skyler"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM  "))
	assert.Equal(t, "test@example.com", NormalizeEmail("test@example.com"))
}

func TestGenerateSessionID(t *testing.T) {
	id1 := GenerateSessionID()
	id2 := GenerateSessionID()
	assert.NotEqual(t, id1, id2)

	parts := strings.Split(id1, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "session", parts[0])
	assert.Len(t, parts[2], 9)
}

func TestGenerateRequestID(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
}

func TestFormatTimeAgo(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	Now = func() time.Time { return fixed }
	defer func() { Now = time.Now }()

	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "0s ago"},
		{45 * time.Second, "45s ago"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
		{-time.Minute, "0s ago"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatTimeAgo(fixed.Add(-tt.ago)))
		})
	}
}
