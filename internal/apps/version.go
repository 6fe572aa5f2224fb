package apps

import (
	"strings"

	"github.com/hashicorp/go-version"
)

// IsNewer reports whether latest is a newer version than installed. Versions
// that do not parse are compared for plain inequality.
func IsNewer(installed, latest string) bool {
	installed = strings.TrimPrefix(strings.TrimSpace(installed), "v")
	latest = strings.TrimPrefix(strings.TrimSpace(latest), "v")
	if latest == "" {
		return false
	}
	if installed == "" {
		return true
	}
	iv, err := version.NewVersion(installed)
	if err != nil {
		return installed != latest
	}
	lv, err := version.NewVersion(latest)
	if err != nil {
		return installed != latest
	}
	return lv.GreaterThan(iv)
}
