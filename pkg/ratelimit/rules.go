package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRules parses an override table such as
//
//	/v1/auth/=10/60s,/v1/ws=30/1m
//
// A window without a unit is read as seconds.
func ParseRules(s string) ([]Rule, error) {
	var rules []Rule
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		prefix, spec, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(prefix) == "" {
			return nil, fmt.Errorf("ratelimit: rule %q: want prefix=limit/window", entry)
		}
		limitStr, windowStr, ok := strings.Cut(spec, "/")
		if !ok {
			return nil, fmt.Errorf("ratelimit: rule %q: want prefix=limit/window", entry)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: rule %q: limit: %w", entry, err)
		}
		window, err := parseWindow(strings.TrimSpace(windowStr))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: rule %q: window: %w", entry, err)
		}

		r := Rule{Prefix: strings.TrimSpace(prefix), Limit: limit, Window: window}
		if err := r.validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseWindow(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
