package utils

import (
	"fmt"
	"time"
)

// Now is the clock used across the module. Tests replace it.
var Now = time.Now

func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// FormatTimeAgo renders how long ago t was, relative to Now.
func FormatTimeAgo(t time.Time) string {
	seconds := int64(Since(t) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}
