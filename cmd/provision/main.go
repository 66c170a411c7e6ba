package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/identity"
	"audiocast/internal/infrastructure/repositories"
	"audiocast/internal/infrastructure/sessionhandle"
	"audiocast/pkg/config"
	"audiocast/pkg/logger"

	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.StringP("config", "c", "", "path to the config file")
	manifestPath := flag.StringP("manifest", "m", "", "YAML manifest of accounts to create (required)")
	delay := flag.Duration("delay", 0, "pause between accounts (defaults to provisioning.request_delay)")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: provision --manifest accounts.yaml [--config config.yaml] [--delay 100ms]")
		flag.PrintDefaults()
		return 2
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *delay <= 0 {
		*delay = cfg.Provisioning.RequestDelay
	}

	log := logger.Must(cfg.Logging.Level)
	defer log.Sync()

	file, err := os.Open(*manifestPath)
	if err != nil {
		log.Errorw("failed to open manifest", "path", *manifestPath, "error", err)
		return 1
	}
	manifest, err := services.ParseManifest(file)
	file.Close()
	if err != nil {
		log.Errorw("invalid manifest", "path", *manifestPath, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Errorw("failed to create repository factory", "error", err)
		return 1
	}
	defer repoFactory.Close()
	if !repoFactory.UsingRedis() {
		log.Warn("no shared store configured; accounts will only exist for this run")
	}

	credentials := repoFactory.CreateCredentialRepository()
	profiles := repoFactory.CreateProfileRepository()
	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, credentials)
	client := identity.NewClient(credentials, tokens, log, identity.WithProfiles(profiles))
	registry := services.NewSessionRegistry(
		repoFactory.CreateSessionRepository(),
		services.Device{Handle: sessionhandle.NewMemory()},
		services.DefaultSessionRegistryConfig(),
		log,
		nil,
	)
	gateway := services.NewAuthGateway(client, profiles, registry, services.AuthGatewayConfig{
		MinPasswordLength: cfg.Provisioning.MinPasswordLength,
	}, log)

	report, err := services.NewProvisioningService(gateway, *delay, log).Provision(ctx, manifest.Accounts)
	if err != nil {
		log.Warnw("provisioning interrupted", "error", err)
	}

	for _, result := range report.Results {
		if result.OK() {
			fmt.Printf("created  %-40s %s\n", result.Email, result.UserID)
		} else {
			fmt.Printf("failed   %-40s %s\n", result.Email, result.Error)
		}
	}
	fmt.Printf("\n%d created, %d failed, %d not attempted\n",
		report.Succeeded, report.Failed, len(manifest.Accounts)-len(report.Results))

	if report.Failed > 0 || err != nil {
		return 1
	}
	return 0
}
