// Package learner is the Learner: it fingerprints alerts, matches them
// against stored remediation patterns, and updates pattern confidence from
// outcomes so Pipeline can skip or hint the LLM on recurring symptoms.
package learner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/store"
)

// Decision is the Learner's verdict for an incoming alert.
type Decision string

const (
	// Bypass means a pattern is confident enough to build a plan directly.
	Bypass Decision = "bypass"
	// Hint means a pattern should be passed to the Analyzer as context.
	Hint Decision = "hint"
	// Miss means no pattern met the hint threshold; call the LLM unaided.
	Miss Decision = "miss"
)

// droppedWhenStructural are instance-identifying labels dropped from the
// fingerprint once a richer structural label is present.
var droppedWhenStructural = map[string]bool{"instance": true, "pod": true, "ip": true}
var structural = map[string]bool{"host": true, "container": true, "service": true}

// Fingerprint builds the normalized, instance-agnostic symptom summary for a.
func Fingerprint(a alert.Alert) string {
	hasStructural := false
	for k := range a.Labels {
		if structural[k] {
			hasStructural = true
			break
		}
	}

	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		if k == "alertname" {
			continue
		}
		if hasStructural && droppedWhenStructural[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Name())
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s:%s", k, a.Labels[k])
	}
	return b.String()
}

// Similarity is the Jaccard index of the two fingerprints' key:value token sets.
func Similarity(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	union := make(map[string]bool, len(ta)+len(tb))
	for t := range ta {
		union[t] = true
		if tb[t] {
			inter++
		}
	}
	for t := range tb {
		union[t] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func tokens(fp string) map[string]bool {
	parts := strings.Split(fp, "|")
	set := make(map[string]bool, len(parts))
	for _, p := range parts {
		set[p] = true
	}
	return set
}

// Learner holds the confidence thresholds that separate bypass/hint/miss.
type Learner struct {
	store           store.Store
	highConfidence  float64
	mediumConfidence float64
}

// New creates a Learner. high and medium are the bypass/hint confidence
// thresholds (defaults 0.75 / 0.50 per configuration).
func New(st store.Store, high, medium float64) *Learner {
	return &Learner{store: st, highConfidence: high, mediumConfidence: medium}
}

// Match finds the best matching enabled pattern for a, scores it by
// effective_confidence, and returns the decision plus the winning pattern
// (nil on Miss).
func (l *Learner) Match(ctx context.Context, a alert.Alert) (Decision, *store.RemediationPattern, error) {
	patterns, err := l.store.FindPatterns(ctx, a.Name())
	if err != nil {
		return Miss, nil, err
	}
	if len(patterns) == 0 {
		return Miss, nil, nil
	}

	fp := Fingerprint(a)

	var best *store.RemediationPattern
	var bestScore float64
	for i := range patterns {
		p := &patterns[i]
		score := p.Confidence * Similarity(fp, p.SymptomFingerprint)
		if best == nil || score > bestScore || (score == bestScore && betterTiebreak(p, best)) {
			best = p
			bestScore = score
		}
	}

	switch {
	case bestScore >= l.highConfidence:
		return Bypass, best, nil
	case bestScore >= l.mediumConfidence:
		return Hint, best, nil
	default:
		return Miss, nil, nil
	}
}

// betterTiebreak reports whether candidate should replace current when their
// scores are equal: higher usage_count wins, then more recent last_used_at.
func betterTiebreak(candidate, current *store.RemediationPattern) bool {
	if candidate.UsageCount != current.UsageCount {
		return candidate.UsageCount > current.UsageCount
	}
	return candidate.LastUsedAt.After(current.LastUsedAt)
}

// RecordOutcome applies the confidence update rule after an attempt executed
// via pattern id completes, and refreshes usage_count/avg_execution_time.
func (l *Learner) RecordOutcome(ctx context.Context, patternID int64, success bool, durationS float64) error {
	return l.store.UpdatePatternOutcome(ctx, patternID, success, durationS)
}

// Extract records a new pattern from a successful actionable attempt when no
// pattern yet exists for (alert_name, fingerprint), or refreshes an existing
// one's solution commands.
func (l *Learner) Extract(ctx context.Context, a alert.Alert, commands []string, host string) error {
	fp := Fingerprint(a)
	now := time.Now()
	p := &store.RemediationPattern{
		AlertName:          a.Name(),
		SymptomFingerprint: fp,
		RootCause:          a.Labels["summary"],
		SolutionCommands:   commands,
		TargetHost:         host,
		RiskLevel:          "medium",
		Confidence:         0.8,
		SuccessCount:       1,
		Enabled:            true,
		CreatedBy:          "learner",
		CreatedAt:          now,
		UpdatedAt:          now,
		LastUsedAt:         now,
	}
	_, err := l.store.UpsertPattern(ctx, p)
	return err
}
