package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSessionID returns a time-ordered session id with a random suffix.
// Collisions need two ids in the same millisecond drawing the same suffix.
func GenerateSessionID() string {
	return fmt.Sprintf("session_%d_%s", Now().UnixMilli(), randomBase36(9))
}

// GenerateRequestID is used when a request arrives without X-Request-ID.
func GenerateRequestID() string {
	timestamp := Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateInstanceID identifies one running process on the event bus.
func GenerateInstanceID() string {
	return GenerateID("instance")
}

func randomBase36(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = base36[int(b[i])%len(base36)]
	}
	return string(b)
}
