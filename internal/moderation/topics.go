package moderation

import (
	"regexp"
	"strings"
	"time"

	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/obs"
)

// Topic is a compiled per-subject blocked topic: either a lowercase literal
// or a case-insensitive regular expression. Compilation happens once when the
// subject is loaded, not per evaluation.
type Topic struct {
	keyword string
	pattern *regexp.Regexp
}

func (t Topic) matches(lower string) bool {
	if t.pattern != nil {
		return t.pattern.MatchString(lower)
	}
	return t.keyword != "" && strings.Contains(lower, t.keyword)
}

// CompileTopics validates and compiles blocked topics. An invalid pattern is
// dropped (treated as non-matching for that topic only) and logged, so a
// malformed entry never aborts evaluation.
func CompileTopics(topics []identity.BlockedTopic) []Topic {
	out := make([]Topic, 0, len(topics))
	for _, t := range topics {
		keyword := strings.TrimSpace(t.Keyword)
		if keyword == "" {
			continue
		}
		if !t.IsPattern {
			out = append(out, Topic{keyword: strings.ToLower(keyword)})
			continue
		}
		re, err := regexp.Compile("(?i)" + keyword)
		if err != nil {
			obs.LogRequest(map[string]any{
				"ts":       time.Now().UTC().Format(time.RFC3339Nano),
				"level":    "warn",
				"msg":      "blocked_topic_pattern_invalid",
				"topic_id": t.ID,
			})
			continue
		}
		out = append(out, Topic{pattern: re})
	}
	return out
}
