package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/identity"
	"audiocast/internal/infrastructure/ipresolver"
	"audiocast/internal/infrastructure/repositories"
	"audiocast/internal/infrastructure/sessionhandle"
	"audiocast/pkg/circuitbreaker"
	"audiocast/pkg/config"
	"audiocast/pkg/logger"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// exitForcedSignOut tells wrapper scripts the account was taken over by
// another device.
const exitForcedSignOut = 3

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.StringP("config", "c", "", "path to the config file")
	email := flag.StringP("email", "e", "", "subscriber email (required)")
	password := flag.StringP("password", "p", os.Getenv("AUDIOCAST_PASSWORD"), "password (or AUDIOCAST_PASSWORD)")
	sessionFile := flag.String("session-file", "", "where this device keeps its session id (defaults to session.local_session_file)")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: listener --email you@example.com [--password secret] [--config config.yaml]")
		flag.PrintDefaults()
		return 2
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *sessionFile == "" {
		*sessionFile = cfg.Session.LocalSessionFile
	}

	log := logger.Must(cfg.Logging.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Errorw("failed to create repository factory", "error", err)
		return 1
	}
	defer repoFactory.Close()

	sessions := repoFactory.CreateSessionRepository()
	profiles := repoFactory.CreateProfileRepository()
	credentials := repoFactory.CreateCredentialRepository()

	handle := sessionhandle.NewFile(*sessionFile)
	var resolverOpts []ipresolver.Option
	if cfg.Session.ResolverFailures > 0 {
		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.Session.ResolverFailures,
			SuccessThreshold: 1,
			Timeout:          cfg.Session.ResolverCooldown,
		})
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			log.Infow("ip resolver breaker", "from", from.String(), "to", to.String())
		})
		resolverOpts = append(resolverOpts, ipresolver.WithBreaker(breaker))
	}
	client := identity.NewClient(
		credentials,
		services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, credentials),
		log,
		identity.WithProfiles(profiles),
	)
	registry := services.NewSessionRegistry(sessions, services.Device{
		Handle:     handle,
		UserAgent:  "audiocast-listener/1.0 (" + hostname() + ")",
		IPResolver: ipresolver.NewHTTPResolver(cfg.Session.IPResolverURL, cfg.Session.IPResolveTimeout, resolverOpts...),
	}, services.SessionRegistryConfig{
		IPResolveTimeout:       cfg.Session.IPResolveTimeout,
		MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
	}, log, nil)

	forced := make(chan services.InvalidationReason, 1)
	monitor := services.NewSessionMonitor(sessions, registry, handle, client, services.WatchOptions{
		InitialDelay: cfg.Session.InitialValidationDelay,
		Interval:     cfg.Session.ValidationInterval,
	}, log, nil)
	monitor.OnForcedSignOut = func(reason services.InvalidationReason) {
		forced <- reason
	}
	gateway := services.NewAuthGateway(client, profiles, registry, services.AuthGatewayConfig{}, log,
		services.WithSignOutHook(monitor.Stop))

	_, profile, err := gateway.SignIn(ctx, *email, *password)
	if err != nil {
		log.Errorw("sign-in failed", "email", *email, "error", err)
		return 1
	}
	if profile == nil || profile.Role != domain.RoleSubscriber {
		log.Errorw("listener requires a subscriber account", "email", *email)
		gateway.SignOut(context.Background())
		return 1
	}
	fmt.Printf("signed in as %s\n", profile.Name())

	if err := monitor.Start(ctx, profile.ID, profile.Role); err != nil {
		log.Errorw("failed to start session monitor", "error", err)
		gateway.SignOut(context.Background())
		return 1
	}

	perms := repoFactory.CreatePermissionRepository()
	unsubscribe, err := perms.SubscribeToUserPermissions(ctx, profile.ID, func(snapshot []*domain.StreamPermission) {
		printPermissions(ctx, profiles, snapshot, log)
	})
	if err != nil {
		log.Errorw("failed to subscribe to permissions", "error", err)
		gateway.SignOut(context.Background())
		return 1
	}
	defer unsubscribe()

	select {
	case reason := <-forced:
		fmt.Printf("signed out: this account was signed in on another device (%s)\n", reason)
		return exitForcedSignOut
	case <-ctx.Done():
	}

	signOutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gateway.SignOut(signOutCtx); err != nil {
		log.Warnw("sign-out incomplete", "error", err)
	}
	fmt.Println("signed out")
	return 0
}

func printPermissions(ctx context.Context, profiles ports.ProfileRepository, snapshot []*domain.StreamPermission, log *zap.SugaredLogger) {
	var lines []string
	for _, perm := range snapshot {
		if !perm.IsActive {
			continue
		}
		name := string(perm.PublisherID)
		if publisher, err := profiles.GetByID(ctx, perm.PublisherID); err == nil {
			name = publisher.Name()
		} else {
			log.Debugw("publisher profile unavailable", "publisher_id", perm.PublisherID, "error", err)
		}
		lines = append(lines, fmt.Sprintf("  %-32s audio=%-5t video=%t", name, perm.AllowAudio, perm.AllowVideo))
	}

	fmt.Printf("[%s] %d publisher(s) assigned\n", time.Now().Format(time.Kitchen), len(lines))
	if len(lines) > 0 {
		fmt.Println(strings.Join(lines, "\n"))
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
