// Package thinkingbudget detects thinking keywords in a prompt and resolves
// them, together with a session's thinking-mode configuration, into a token
// budget (C5, §4.5). No prior-art in the retrieved corpus implements this;
// it is designed fresh from the spec, using stdlib regexp/strings only —
// word-boundary keyword matching is a pure-language-library concern with no
// natural third-party fit in this corpus.
package thinkingbudget

import (
	"regexp"
	"strings"

	"github.com/agor/agord/internal/model"
)

// Bucket is a thinking-keyword tier, in increasing budget order.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketThink
	BucketMega
	BucketUltra
)

// Tokens is the token budget assigned to each Bucket (§4.5).
var Tokens = map[Bucket]int{
	BucketNone:  0,
	BucketThink: 4000,
	BucketMega:  10000,
	BucketUltra: 31999,
}

// phrase groups, highest-priority bucket first; order within a bucket
// doesn't matter, but buckets are checked in this order and the first
// matching bucket wins.
var phrasesByBucket = []struct {
	bucket  Bucket
	phrases []string
}{
	{BucketUltra, []string{
		"ultrathink", "think harder", "think very hard", "think super hard",
		"think really hard", "think intensely", "think longer",
	}},
	{BucketMega, []string{
		"think hard", "think deeply", "think more", "think a lot", "think about it",
	}},
	{BucketThink, []string{"think"}},
}

var patternCache = buildPatterns()

func buildPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, group := range phrasesByBucket {
		for _, phrase := range group.phrases {
			out[phrase] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
		}
	}
	return out
}

// Detect returns the highest-priority bucket matched in prompt, or
// BucketNone if nothing matches. "thinking" and "rethink" never trigger
// BucketThink because \b word-boundary matching requires "think" to stand
// alone.
func Detect(prompt string) Bucket {
	lower := strings.ToLower(prompt)
	for _, group := range phrasesByBucket {
		for _, phrase := range group.phrases {
			if patternCache[phrase].MatchString(lower) {
				return group.bucket
			}
		}
	}
	return BucketNone
}

// Resolve maps prompt text and a session's thinking configuration to a
// token budget, or nil for "no thinking" (§4.5 Resolution rules).
func Resolve(prompt string, cfg model.ModelConfig) *int {
	switch cfg.ThinkingMode {
	case model.ThinkingOff:
		return nil
	case model.ThinkingManual:
		if cfg.ManualTokens > 0 {
			t := cfg.ManualTokens
			return &t
		}
		return nil
	case model.ThinkingAuto:
		fallthrough
	default:
		bucket := Detect(prompt)
		if bucket == BucketNone {
			return nil
		}
		t := Tokens[bucket]
		return &t
	}
}
