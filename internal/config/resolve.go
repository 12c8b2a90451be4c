package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// ResolveValue expands the value forms accepted for secrets and URLs:
//
//	op://vault/item/field   1Password secret via `op read`
//	$(command)              trimmed output of a shell command
//	${VAR} or $VAR          environment variable
//
// Anything else is returned unchanged.
func ResolveValue(value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "op://"):
		return resolveOnePassword(value)
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		return runForValue("sh", "-c", value[2:len(value)-1])
	default:
		return expandEnv(value), nil
	}
}

// resolveOnePassword accepts an optional ?account= query parameter.
func resolveOnePassword(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("1password: invalid reference %s: %w", ref, err)
	}
	args := []string{"read", "op://" + u.Host + u.Path}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}
	out, err := runForValue("op", args...)
	if err != nil {
		return "", fmt.Errorf("1password: %w (is 'op' installed and signed in?)", err)
	}
	return out, nil
}

func runForValue(name string, args ...string) (string, error) {
	output, err := exec.Command(name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("command failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("command failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// expandEnv expands ${VAR} or $VAR when it makes up the whole string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") && !strings.ContainsAny(s[1:], " /:") {
		return os.Getenv(s[1:])
	}
	return s
}
