package config

import (
	"os"
	"strings"
)

// EnvBool reads a boolean env var; unrecognised or empty values yield def.
func EnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// EnvString returns the trimmed env value or def when unset.
func EnvString(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// MenuFallbackEnabled toggles the HTML fallback source.
//
// Set via env:
// - MENU_FALLBACK_ENABLED=false
func MenuFallbackEnabled() bool {
	return EnvBool("MENU_FALLBACK_ENABLED", true)
}

// MenuSnapshotArchiveEnabled uploads each run's raw snapshot list to GCS.
//
// Set via env:
// - MENU_SNAPSHOT_ARCHIVE=true
func MenuSnapshotArchiveEnabled() bool {
	return EnvBool("MENU_SNAPSHOT_ARCHIVE", false)
}

// MenuPubSubPushEnabled gates the /pubsub/menu-sync endpoint.
func MenuPubSubPushEnabled() bool {
	return EnvBool("ENABLE_MENU_PUBSUB_PUSH_ENDPOINT", true)
}

// MenuSyncFacilities restricts scheduled runs to a comma separated list of facility aliases.
//
// Set via env:
// - MENU_SYNC_FACILITIES="FORD,WILY,Earhart"
func MenuSyncFacilities() []string {
	raw := os.Getenv("MENU_SYNC_FACILITIES")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
