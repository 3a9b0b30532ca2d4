// Package attribution resolves the acting user's display name for profile
// defaults and turn records in single-user deployments.
package attribution

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var (
	cachedName string
	once       sync.Once
)

// DetectUserName returns the best available display name for the local user.
// Checks in order: AIDE_USER_NAME env, AIDE_USER env, git config user.name,
// "you". The git config result is cached after first call.
func DetectUserName() string {
	once.Do(func() {
		cachedName = detectUserNameUncached()
	})
	return cachedName
}

// detectUserNameUncached performs detection without caching. Used for testing.
func detectUserNameUncached() string {
	if name := os.Getenv("AIDE_USER_NAME"); name != "" {
		return name
	}
	if name := os.Getenv("AIDE_USER"); name != "" {
		return name
	}
	if name := gitUserName(); name != "" {
		return name
	}
	return "you"
}

// gitUserName runs `git config --get user.name` and returns the trimmed result.
// Returns empty string on any error.
func gitUserName() string {
	out, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
