package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/internal/infrastructure/repositories/memory"
	"audiocast/internal/infrastructure/sessionhandle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testManifest = `
default_password: "11111111"
default_role: subscriber
accounts:
  - email: admin@example.com
    role: admin
    display_name: Admin
  - email: pub1@example.com
    role: publisher
    display_name: Publisher 1
  - email: skyler@example.com
  - email: joe@example.com
    password: other-secret
`

func TestParseManifest(t *testing.T) {
	manifest, err := ParseManifest(strings.NewReader(testManifest))
	require.NoError(t, err)
	require.Len(t, manifest.Accounts, 4)

	assert.Equal(t, domain.RoleAdmin, manifest.Accounts[0].Role)
	assert.Equal(t, "11111111", manifest.Accounts[0].Password)
	assert.Equal(t, domain.RoleSubscriber, manifest.Accounts[2].Role)
	assert.Equal(t, "", manifest.Accounts[2].DisplayName)
	assert.Equal(t, "other-secret", manifest.Accounts[3].Password)
}

func TestParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("accounts:\n  - role: admin\n"))
	assert.Error(t, err)

	_, err = ParseManifest(strings.NewReader("accounts: [unclosed"))
	assert.Error(t, err)
}

func TestProvisioningService_Provision(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	identity := newAccountIdentity()
	profiles := memory.NewMemoryProfileRepository()
	registry := NewSessionRegistry(memory.NewMemorySessionRepository(realtime.NewFeed()),
		Device{Handle: sessionhandle.NewMemory()}, DefaultSessionRegistryConfig(), logger, nil)
	gateway := NewAuthGateway(identity, profiles, registry, AuthGatewayConfig{}, logger)

	manifest, err := ParseManifest(strings.NewReader(testManifest))
	require.NoError(t, err)
	// duplicate and invalid entries fail without stopping the run
	accounts := append(manifest.Accounts,
		AccountSpec{Email: "skyler@example.com", Password: "11111111", Role: domain.RoleSubscriber},
		AccountSpec{Email: "bad@example.com", Password: "1", Role: domain.RoleSubscriber},
	)

	service := NewProvisioningService(gateway, 5*time.Millisecond, logger)
	start := time.Now()
	report, err := service.Provision(context.Background(), accounts)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Results, 6)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	failed := report.FailedResults()
	require.Len(t, failed, 2)
	assert.Equal(t, "skyler@example.com", failed[0].Email)
	assert.Equal(t, "bad@example.com", failed[1].Email)

	admins, err := profiles.ListByRole(context.Background(), domain.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "Admin", admins[0].DisplayName)

	subscribers, err := profiles.ListByRole(context.Background(), domain.RoleSubscriber)
	require.NoError(t, err)
	assert.Len(t, subscribers, 2)
}

func TestProvisioningService_Cancelled(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	service := NewProvisioningService(nil, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := service.Provision(ctx, []AccountSpec{{Email: "a@example.com"}})
	assert.Error(t, err)
	assert.Empty(t, report.Results)
}
