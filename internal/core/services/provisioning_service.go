package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"
)

// AccountSpec is one account to create. Empty fields take the manifest
// defaults.
type AccountSpec struct {
	Email       string          `yaml:"email"`
	Password    string          `yaml:"password,omitempty"`
	Role        domain.UserRole `yaml:"role,omitempty"`
	DisplayName string          `yaml:"display_name,omitempty"`
}

type Manifest struct {
	DefaultPassword string          `yaml:"default_password"`
	DefaultRole     domain.UserRole `yaml:"default_role"`
	Accounts        []AccountSpec   `yaml:"accounts"`
}

// ParseManifest reads a YAML account manifest and applies its defaults to
// every entry.
func ParseManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	for i := range manifest.Accounts {
		account := &manifest.Accounts[i]
		if account.Email == "" {
			return nil, fmt.Errorf("account %d: email is required", i)
		}
		if account.Password == "" {
			account.Password = manifest.DefaultPassword
		}
		if account.Role == "" {
			account.Role = manifest.DefaultRole
		}
	}
	return &manifest, nil
}

type AccountResult struct {
	Email  string        `json:"email"`
	UserID domain.UserID `json:"user_id,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (r AccountResult) OK() bool { return r.Error == "" }

type ProvisioningReport struct {
	Results   []AccountResult `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// FailedResults returns only the accounts that could not be created.
func (r *ProvisioningReport) FailedResults() []AccountResult {
	var failed []AccountResult
	for _, result := range r.Results {
		if !result.OK() {
			failed = append(failed, result)
		}
	}
	return failed
}

// ProvisioningService creates accounts one at a time, spaced out to stay
// under the identity service's request ceiling.
type ProvisioningService struct {
	gateway ports.AuthGateway
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func NewProvisioningService(gateway ports.AuthGateway, delay time.Duration, logger *zap.SugaredLogger) *ProvisioningService {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &ProvisioningService{
		gateway: gateway,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Provision creates every account in order. A failed account is recorded and
// the run continues; only cancellation stops it early.
func (s *ProvisioningService) Provision(ctx context.Context, accounts []AccountSpec) (*ProvisioningReport, error) {
	report := &ProvisioningReport{Results: make([]AccountResult, 0, len(accounts))}

	for _, account := range accounts {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}

		result := AccountResult{Email: account.Email}
		profile, err := s.gateway.SignUp(ctx, account.Email, account.Password, account.Role, account.DisplayName)
		if err != nil {
			result.Error = err.Error()
			report.Failed++
			s.logger.Warnw("failed to create account",
				"email", account.Email,
				"role", account.Role,
				"error", err,
			)
		} else {
			result.UserID = profile.ID
			report.Succeeded++
			s.logger.Infow("account created",
				"email", account.Email,
				"user_id", profile.ID,
				"role", profile.Role,
			)
		}
		report.Results = append(report.Results, result)
	}

	s.logger.Infow("provisioning finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}
