package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/pkg/backup"

	"go.uber.org/zap"
)

const (
	sectionProfiles    = "profiles"
	sectionPermissions = "permissions"

	// Latest names the newest backup wherever a backup name is accepted.
	Latest = "latest"
)

// Snapshotter saves the permission matrix together with the profiles it
// refers to, and restores missing edges from a saved matrix. Profiles are
// kept for reference only; accounts are never re-created from a backup.
type Snapshotter struct {
	backups      *backup.Service
	profiles     ports.ProfileRepository
	perms        ports.PermissionRepository
	orchestrator ports.AssignmentOrchestrator
	logger       *zap.SugaredLogger
}

func NewSnapshotter(
	backups *backup.Service,
	profiles ports.ProfileRepository,
	perms ports.PermissionRepository,
	orchestrator ports.AssignmentOrchestrator,
	logger *zap.SugaredLogger,
) *Snapshotter {
	return &Snapshotter{
		backups:      backups,
		profiles:     profiles,
		perms:        perms,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Info describes one saved backup.
type Info struct {
	Name    string    `json:"name"`
	TakenAt time.Time `json:"taken_at"`
}

func (s *Snapshotter) Snapshot(ctx context.Context, kind string) (string, error) {
	archive := backup.NewArchive()

	var profiles []*domain.UserProfile
	var subscribers []*domain.UserProfile
	for _, role := range []domain.UserRole{domain.RoleAdmin, domain.RolePublisher, domain.RoleSubscriber} {
		list, err := s.profiles.ListByRole(ctx, role)
		if err != nil {
			return "", fmt.Errorf("failed to list %s profiles: %w", role, err)
		}
		profiles = append(profiles, list...)
		if role == domain.RoleSubscriber {
			subscribers = list
		}
	}

	perms := make([]*domain.StreamPermission, 0)
	for _, subscriber := range subscribers {
		list, err := s.perms.FindBySubscriber(ctx, subscriber.ID)
		if err != nil {
			return "", fmt.Errorf("failed to load permissions of %s: %w", subscriber.ID, err)
		}
		perms = append(perms, list...)
	}

	if err := archive.Put(sectionProfiles, profiles); err != nil {
		return "", err
	}
	if err := archive.Put(sectionPermissions, perms); err != nil {
		return "", err
	}
	archive.Metadata["profile_count"] = len(profiles)
	archive.Metadata["permission_count"] = len(perms)
	archive.Metadata["backup_type"] = kind

	name, err := s.backups.Create(ctx, archive)
	if err != nil {
		return "", err
	}
	s.logger.Infow("backup created",
		"backup_name", name,
		"type", kind,
		"profiles", len(profiles),
		"permissions", len(perms),
	)
	return name, nil
}

func (s *Snapshotter) List(ctx context.Context) ([]Info, error) {
	names, err := s.backups.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		ts, _ := backup.TimestampOf(names[i])
		infos = append(infos, Info{Name: names[i], TakenAt: ts})
	}
	return infos, nil
}

// Resolve turns Latest into the newest backup name.
func (s *Snapshotter) Resolve(ctx context.Context, name string) (string, error) {
	if name != Latest {
		return name, nil
	}
	return s.backups.Latest(ctx)
}

// Restore re-creates the saved edges that are missing from the store.
// Edges whose publisher or subscriber no longer has a profile are skipped.
func (s *Snapshotter) Restore(ctx context.Context, name string) (ports.AssignResult, error) {
	var result ports.AssignResult

	name, err := s.Resolve(ctx, name)
	if err != nil {
		return result, err
	}
	archive, err := s.backups.Load(ctx, name)
	if err != nil {
		return result, err
	}

	var saved []*domain.StreamPermission
	if err := archive.Get(sectionPermissions, &saved); err != nil {
		return result, err
	}

	grants := make([]*domain.StreamPermission, 0, len(saved))
	known := make(map[domain.UserID]bool)
	for _, perm := range saved {
		ok, err := s.accountsExist(ctx, known, perm.PublisherID, perm.SubscriberID)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			s.logger.Warnw("skipping permission of removed account",
				"backup_name", name,
				"publisher_id", perm.PublisherID,
				"subscriber_id", perm.SubscriberID,
			)
			continue
		}
		grants = append(grants, perm)
	}

	restored, err := s.orchestrator.RestoreGrants(ctx, grants)
	result.Assigned = restored.Assigned
	result.Skipped += restored.Skipped
	result.Failed = restored.Failed
	if err != nil {
		return result, err
	}

	s.logger.Infow("backup restored",
		"backup_name", name,
		"created", result.Assigned,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Snapshotter) accountsExist(ctx context.Context, known map[domain.UserID]bool, ids ...domain.UserID) (bool, error) {
	for _, id := range ids {
		ok, seen := known[id]
		if !seen {
			_, err := s.profiles.GetByID(ctx, id)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, domain.ErrProfileNotFound):
				ok = false
			default:
				return false, fmt.Errorf("failed to look up profile %s: %w", id, err)
			}
			known[id] = ok
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
