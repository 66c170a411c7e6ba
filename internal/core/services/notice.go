package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is an operator-facing message that dismisses itself after
// DismissAfter.
type Notice struct {
	Level        NoticeLevel   `json:"level"`
	Message      string        `json:"message"`
	DismissAfter time.Duration `json:"-"`
}

func (n Notice) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Level          NoticeLevel `json:"level"`
		Message        string      `json:"message"`
		DismissAfterMS int64       `json:"dismiss_after_ms"`
	}{n.Level, n.Message, n.DismissAfter.Milliseconds()})
}

const (
	toggleNoticeTTL     = 3 * time.Second
	toggleErrorTTL      = 5 * time.Second
	assignAllNoticeTTL  = 5 * time.Second
	bulkNoticeTTL       = 7 * time.Second
	capabilityNoticeTTL = 3 * time.Second
)

func ToggleNotice(assigned bool, err error) Notice {
	if err != nil {
		return Notice{Level: NoticeError, Message: "Failed to update assignment: " + err.Error(), DismissAfter: toggleErrorTTL}
	}
	if assigned {
		return Notice{Level: NoticeSuccess, Message: "Publisher assigned successfully!", DismissAfter: toggleNoticeTTL}
	}
	return Notice{Level: NoticeSuccess, Message: "Publisher unassigned successfully!", DismissAfter: toggleNoticeTTL}
}

func CapabilityNotice(bit domain.CapabilityBit, err error) Notice {
	switch {
	case errors.Is(err, domain.ErrPermissionNotFound):
		return Notice{Level: NoticeWarning, Message: "Assign the publisher before changing its capabilities", DismissAfter: capabilityNoticeTTL}
	case err != nil:
		return Notice{Level: NoticeError, Message: fmt.Sprintf("Failed to update %s: %v", bit, err), DismissAfter: capabilityNoticeTTL}
	}
	return Notice{Level: NoticeSuccess, Message: fmt.Sprintf("Updated %s", bit), DismissAfter: capabilityNoticeTTL}
}

func AssignAllNotice(result ports.AssignResult, err error) Notice {
	if err != nil {
		return Notice{Level: NoticeError, Message: "Failed to assign publishers: " + err.Error(), DismissAfter: assignAllNoticeTTL}
	}
	if result.Failed > 0 {
		return Notice{
			Level:        NoticeError,
			Message:      fmt.Sprintf("Assigned %d publisher(s), failed to assign %d publishers", result.Assigned, result.Failed),
			DismissAfter: assignAllNoticeTTL,
		}
	}
	return Notice{
		Level:        NoticeSuccess,
		Message:      fmt.Sprintf("Successfully assigned %d publisher(s)!", result.Assigned),
		DismissAfter: assignAllNoticeTTL,
	}
}

func UnassignAllNotice(result ports.AssignResult, err error) Notice {
	if err != nil {
		return Notice{Level: NoticeError, Message: "Failed to unassign publishers: " + err.Error(), DismissAfter: assignAllNoticeTTL}
	}
	if result.Failed > 0 {
		return Notice{
			Level:        NoticeError,
			Message:      fmt.Sprintf("Unassigned %d publisher(s), failed to unassign %d publishers", result.Unassigned, result.Failed),
			DismissAfter: assignAllNoticeTTL,
		}
	}
	return Notice{
		Level:        NoticeSuccess,
		Message:      fmt.Sprintf("Successfully unassigned %d publisher(s)!", result.Unassigned),
		DismissAfter: assignAllNoticeTTL,
	}
}

func BulkAssignNotice(result ports.AssignResult, subscribers int, err error) Notice {
	if err != nil {
		return Notice{Level: NoticeError, Message: "Bulk assignment failed: " + err.Error(), DismissAfter: bulkNoticeTTL}
	}
	level := NoticeSuccess
	if result.Failed > 0 {
		level = NoticeWarning
	}
	return Notice{
		Level: level,
		Message: fmt.Sprintf("Created %d new assignments, Skipped %d existing, Failed %d across %d subscribers!",
			result.Assigned, result.Skipped, result.Failed, subscribers),
		DismissAfter: bulkNoticeTTL,
	}
}
