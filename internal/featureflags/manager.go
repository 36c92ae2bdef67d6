// Package featureflags evaluates the FEATURE_FLAGS config list so rollout
// decisions stay out of the call sites. Campfire uses it to stage risky
// delivery paths, web push first among them, behind per-user gates.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// flag is a parsed flag value. percent is only meaningful for rollouts.
type flag struct {
	kind    flagKind
	percent int
}

type flagKind int

const (
	flagOff flagKind = iota
	flagOn
	flagRollout
)

// Manager answers per-user flag checks from a config string parsed once at
// startup. A nil Manager reports every flag off.
//
// The config is a comma-separated list, e.g. "web_push=on,new_sidebar=25%".
// Values are on/true/1, off/false/0, or N% for a deterministic per-user
// rollout.
type Manager struct {
	flags map[string]flag
}

// NewManager parses the FEATURE_FLAGS value. Malformed entries are dropped
// rather than failing startup.
func NewManager(raw string) *Manager {
	flags := make(map[string]flag)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = normalize(name)
		if name == "" {
			continue
		}
		if f, ok := parseValue(normalize(value)); ok {
			flags[name] = f
		}
	}
	return &Manager{flags: flags}
}

func parseValue(value string) (flag, bool) {
	switch value {
	case "on", "true", "1":
		return flag{kind: flagOn}, true
	case "off", "false", "0":
		return flag{kind: flagOff}, true
	}
	if pct, found := strings.CutSuffix(value, "%"); found {
		n, err := strconv.Atoi(pct)
		if err != nil {
			return flag{}, false
		}
		return flag{kind: flagRollout, percent: n}, true
	}
	return flag{}, false
}

// Enabled reports whether the named flag is on for the user. Rollout
// buckets are stable per (flag, user), so a user never flaps in and out
// of a percentage rollout between requests.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	f, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}
	switch f.kind {
	case flagOn:
		return true
	case flagRollout:
		if f.percent <= 0 {
			return false
		}
		if f.percent >= 100 {
			return true
		}
		if userID == 0 {
			return false
		}
		return rolloutBucket(normalize(name), userID) < f.percent
	}
	return false
}

// Snapshot evaluates every configured flag for one user. Backs the
// /api/flags endpoint so clients see the same decisions the server makes.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
