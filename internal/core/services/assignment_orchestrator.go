package services

import (
	"context"
	"errors"
	"fmt"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	apperrors "audiocast/pkg/errors"
	"audiocast/pkg/tracing"

	"go.uber.org/zap"
)

const (
	opToggle     = "toggle"
	opCapability = "capability"
	opAssignAll  = "assign_all"
	opUnassign   = "unassign_all"
	opBulk       = "bulk_assign"
	opRestore    = "restore"
)

type assignmentOrchestrator struct {
	perms   ports.PermissionRepository
	locker  ports.Locker
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder
}

// NewAssignmentOrchestrator builds the admin-side workflows on top of the
// permission store. locker serializes writers of one (publisher, subscriber)
// pair so concurrent grants cannot leave duplicate edges.
func NewAssignmentOrchestrator(
	perms ports.PermissionRepository,
	locker ports.Locker,
	logger *zap.SugaredLogger,
	metrics ports.MetricsRecorder,
) ports.AssignmentOrchestrator {
	return &assignmentOrchestrator{
		perms:   perms,
		locker:  locker,
		logger:  logger,
		metrics: metricsOrNoop(metrics),
	}
}

func pairLockKey(publisherID, subscriberID domain.UserID) string {
	return fmt.Sprintf("permission:%s:%s", publisherID, subscriberID)
}

func (o *assignmentOrchestrator) lockPair(ctx context.Context, publisherID, subscriberID domain.UserID) (func(), error) {
	unlock, err := o.locker.Lock(ctx, pairLockKey(publisherID, subscriberID))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", domain.ErrLockNotAcquired, publisherID, subscriberID, err)
	}
	return unlock, nil
}

func newGrant(publisherID, subscriberID domain.UserID) *domain.StreamPermission {
	return &domain.StreamPermission{
		PublisherID:  publisherID,
		SubscriberID: subscriberID,
		AllowVideo:   true,
		AllowAudio:   true,
		IsActive:     true,
	}
}

// createUnique writes grant unless an edge already exists for its pair.
func (o *assignmentOrchestrator) createUnique(ctx context.Context, grant *domain.StreamPermission) (*domain.StreamPermission, error) {
	unlock, err := o.lockPair(ctx, grant.PublisherID, grant.SubscriberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := o.perms.FindByPair(ctx, grant.PublisherID, grant.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up permission: %w", err)
	}
	if len(existing) > 0 {
		return nil, domain.ErrPermissionExists
	}

	return o.perms.Create(ctx, grant)
}

func (o *assignmentOrchestrator) ToggleAssignment(ctx context.Context, publisherID, subscriberID domain.UserID, nextAssigned bool) error {
	ctx, span := tracing.TraceAssignment(ctx, opToggle, string(subscriberID))
	defer span.End()

	unlock, err := o.lockPair(ctx, publisherID, subscriberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	defer unlock()

	existing, err := o.perms.FindByPair(ctx, publisherID, subscriberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to look up permission: %w", err)
	}

	if !nextAssigned {
		return o.revokePair(ctx, existing)
	}

	if len(existing) == 0 {
		perm, err := o.perms.Create(ctx, newGrant(publisherID, subscriberID))
		if err != nil {
			o.metrics.AssignmentOutcome(opToggle, OutcomeFailed, 1)
			tracing.RecordError(ctx, err)
			return fmt.Errorf("failed to create permission: %w", err)
		}
		o.metrics.AssignmentOutcome(opToggle, OutcomeCreated, 1)
		o.logger.Infow("permission created",
			"permission_id", perm.ID,
			"publisher_id", publisherID,
			"subscriber_id", subscriberID,
		)
		return nil
	}

	for _, perm := range existing {
		if perm.IsActive {
			return nil
		}
	}

	// Reactivate instead of creating a second edge.
	perm := existing[0]
	active := true
	if err := o.perms.Update(ctx, perm.ID, domain.PermissionPatch{IsActive: &active}); err != nil {
		o.metrics.AssignmentOutcome(opToggle, OutcomeFailed, 1)
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to reactivate permission: %w", err)
	}
	o.metrics.AssignmentOutcome(opToggle, OutcomeReactivated, 1)
	o.logger.Infow("permission reactivated",
		"permission_id", perm.ID,
		"publisher_id", publisherID,
		"subscriber_id", subscriberID,
	)
	return nil
}

// revokePair hard-deletes every edge of a pair, duplicates included.
func (o *assignmentOrchestrator) revokePair(ctx context.Context, existing []*domain.StreamPermission) error {
	var firstErr error
	for _, perm := range existing {
		if err := o.perms.Delete(ctx, perm.ID); err != nil && !errors.Is(err, domain.ErrPermissionNotFound) {
			o.metrics.AssignmentOutcome(opToggle, OutcomeFailed, 1)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete permission %s: %w", perm.ID, err)
			}
			continue
		}
		o.metrics.AssignmentOutcome(opToggle, OutcomeDeleted, 1)
		o.logger.Infow("permission deleted",
			"permission_id", perm.ID,
			"publisher_id", perm.PublisherID,
			"subscriber_id", perm.SubscriberID,
		)
	}
	if firstErr != nil {
		tracing.RecordError(ctx, firstErr)
	}
	return firstErr
}

func (o *assignmentOrchestrator) SetCapabilityBit(ctx context.Context, publisherID, subscriberID domain.UserID, bit domain.CapabilityBit, value bool) error {
	ctx, span := tracing.TraceAssignment(ctx, opCapability, string(subscriberID))
	defer span.End()

	patch, err := bit.Patch(value)
	if err != nil {
		return err
	}

	existing, err := o.perms.FindByPair(ctx, publisherID, subscriberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to look up permission: %w", err)
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrPermissionNotFound, publisherID, subscriberID)
	}

	for _, perm := range existing {
		if err := o.perms.Update(ctx, perm.ID, patch); err != nil {
			o.metrics.AssignmentOutcome(opCapability, OutcomeFailed, 1)
			tracing.RecordError(ctx, err)
			return fmt.Errorf("failed to update permission: %w", err)
		}
	}
	o.metrics.AssignmentOutcome(opCapability, OutcomeUpdated, len(existing))
	return nil
}

func (o *assignmentOrchestrator) AssignAll(ctx context.Context, subscriberID domain.UserID, publishers []domain.UserID) (ports.AssignResult, error) {
	ctx, span := tracing.TraceAssignment(ctx, opAssignAll, string(subscriberID))
	defer span.End()

	var result ports.AssignResult

	current, err := o.perms.FindBySubscriber(ctx, subscriberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return result, fmt.Errorf("failed to load permissions: %w", err)
	}
	assigned := domain.AssignedPublishers(current)

	for _, publisherID := range publishers {
		if err := ctx.Err(); err != nil {
			o.record(opAssignAll, result)
			return result, err
		}
		if assigned[publisherID] {
			result.Skipped++
			continue
		}
		o.tallyCreate(ctx, opAssignAll, newGrant(publisherID, subscriberID), &result)
		assigned[publisherID] = true
	}

	o.record(opAssignAll, result)
	o.logger.Infow("assign all finished",
		"subscriber_id", subscriberID,
		"assigned", result.Assigned,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (o *assignmentOrchestrator) UnassignAll(ctx context.Context, subscriberID domain.UserID) (ports.AssignResult, error) {
	ctx, span := tracing.TraceAssignment(ctx, opUnassign, string(subscriberID))
	defer span.End()

	var result ports.AssignResult

	current, err := o.perms.FindBySubscriber(ctx, subscriberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return result, fmt.Errorf("failed to load permissions: %w", err)
	}

	for _, perm := range current {
		if err := ctx.Err(); err != nil {
			o.record(opUnassign, result)
			return result, err
		}
		if err := o.perms.Delete(ctx, perm.ID); err != nil && !errors.Is(err, domain.ErrPermissionNotFound) {
			result.Failed++
			o.logger.Warnw("failed to delete permission",
				"permission_id", perm.ID,
				"publisher_id", perm.PublisherID,
				"subscriber_id", subscriberID,
				"error", err,
			)
			continue
		}
		result.Unassigned++
	}

	o.record(opUnassign, result)
	o.logger.Infow("unassign all finished",
		"subscriber_id", subscriberID,
		"unassigned", result.Unassigned,
		"failed", result.Failed,
	)
	return result, nil
}

func (o *assignmentOrchestrator) BulkAssignMany(ctx context.Context, subscriberIDs, publishers []domain.UserID, confirmed bool) (ports.AssignResult, error) {
	var result ports.AssignResult
	if !confirmed {
		return result, fmt.Errorf("%w: up to %d writes", domain.ErrConfirmationRequired, len(subscriberIDs)*len(publishers))
	}

	ctx, span := tracing.TraceAssignment(ctx, opBulk, "")
	defer span.End()

	for _, subscriberID := range subscriberIDs {
		for _, publisherID := range publishers {
			if err := ctx.Err(); err != nil {
				o.record(opBulk, result)
				return result, err
			}
			o.tallyCreate(ctx, opBulk, newGrant(publisherID, subscriberID), &result)
		}
	}

	o.record(opBulk, result)
	o.logger.Infow("bulk assign finished",
		"subscribers", len(subscriberIDs),
		"publishers", len(publishers),
		"created", result.Assigned,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// RestoreGrants re-creates edges from a saved permission set, keeping their
// capability bits and active flag. Pairs that already have an edge are
// skipped, so restoring onto a live store only fills gaps.
func (o *assignmentOrchestrator) RestoreGrants(ctx context.Context, grants []*domain.StreamPermission) (ports.AssignResult, error) {
	ctx, span := tracing.TraceAssignment(ctx, opRestore, "")
	defer span.End()

	var result ports.AssignResult
	for _, saved := range grants {
		if err := ctx.Err(); err != nil {
			o.record(opRestore, result)
			return result, err
		}
		grant := *saved
		grant.ID = ""
		o.tallyCreate(ctx, opRestore, &grant, &result)
	}

	o.record(opRestore, result)
	o.logger.Infow("restore finished",
		"grants", len(grants),
		"created", result.Assigned,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// tallyCreate attempts one grant and counts it. Conflicts are skips; any
// other error is a failure and processing continues.
func (o *assignmentOrchestrator) tallyCreate(ctx context.Context, op string, grant *domain.StreamPermission, result *ports.AssignResult) {
	_, err := o.createUnique(ctx, grant)
	switch {
	case err == nil:
		result.Assigned++
	case apperrors.IsConflict(err):
		result.Skipped++
	default:
		result.Failed++
		o.logger.Warnw("failed to create permission",
			"op", op,
			"publisher_id", grant.PublisherID,
			"subscriber_id", grant.SubscriberID,
			"error", err,
		)
	}
}

func (o *assignmentOrchestrator) record(op string, result ports.AssignResult) {
	if result.Assigned > 0 {
		o.metrics.AssignmentOutcome(op, OutcomeCreated, result.Assigned)
	}
	if result.Unassigned > 0 {
		o.metrics.AssignmentOutcome(op, OutcomeDeleted, result.Unassigned)
	}
	if result.Skipped > 0 {
		o.metrics.AssignmentOutcome(op, OutcomeSkipped, result.Skipped)
	}
	if result.Failed > 0 {
		o.metrics.AssignmentOutcome(op, OutcomeFailed, result.Failed)
	}
}
