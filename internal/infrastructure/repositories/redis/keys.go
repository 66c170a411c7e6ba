package redis

import (
	"strings"

	"audiocast/internal/core/domain"
)

const keyPrefix = "audiocast:"

func sessionKey(id domain.SessionID) string {
	return keyPrefix + "session:" + string(id)
}

func allSessionsKey() string {
	return keyPrefix + "sessions"
}

func userSessionsKey(userID domain.UserID) string {
	return keyPrefix + "user:" + string(userID) + ":sessions"
}

func sessionGenerationKey(userID domain.UserID) string {
	return keyPrefix + "user:" + string(userID) + ":session_gen"
}

func permissionKey(id domain.PermissionID) string {
	return keyPrefix + "permission:" + string(id)
}

func subscriberPermissionsKey(subscriberID domain.UserID) string {
	return keyPrefix + "subscriber:" + string(subscriberID) + ":permissions"
}

func profileKey(id domain.UserID) string {
	return keyPrefix + "profile:" + string(id)
}

func roleProfilesKey(role domain.UserRole) string {
	return keyPrefix + "role:" + string(role) + ":profiles"
}

func credentialKey(email string) string {
	return keyPrefix + "credential:" + strings.ToLower(email)
}

func revokedTokenKey(tokenID string) string {
	return keyPrefix + "revoked:" + tokenID
}
