package service

import "fmt"

// SessionPolicy decides what a login does to the subject's other sessions.
type SessionPolicy string

const (
	// SessionPolicyConcurrent lets every device keep its own session. Only
	// a password change revokes them all.
	SessionPolicyConcurrent SessionPolicy = "concurrent"

	// SessionPolicySingle revokes every other session on login.
	SessionPolicySingle SessionPolicy = "single"
)

func ParseSessionPolicy(s string) (SessionPolicy, error) {
	switch p := SessionPolicy(s); p {
	case SessionPolicyConcurrent, SessionPolicySingle:
		return p, nil
	case "":
		return SessionPolicyConcurrent, nil
	default:
		return "", fmt.Errorf("unknown session policy %q", s)
	}
}
