// Package verdict turns a classifier result into the service's answer.
package verdict

import (
	"math"
	"strings"

	"github.com/example/nsfw-check/internal/moderation"
)

// Status is the coarse outcome reported to callers.
type Status string

const (
	StatusSafe    Status = "Safe"
	StatusNotSafe Status = "Not Safe"
	StatusError   Status = "Error"
)

const (
	ReasonMinors        = "Content may involve minors"
	ReasonSexual        = "Sexual content detected"
	ReasonFlaggedPrefix = "Flagged categories: "
	ReasonHighSexual    = "High probability of sexual content"
	ReasonSafe          = "No concerning content detected"
)

const (
	minorsConfidence   = 0.95
	sexualDefaultScore = 0.95
	sexualFloor        = 0.85
	flaggedConfidence  = 0.85
	highSexualScore    = 0.7
)

// Verdict is the response body for a moderation request.
type Verdict struct {
	Status         Status             `json:"status"`
	Reason         string             `json:"reason"`
	Confidence     float64            `json:"confidence"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Evaluate applies the severity ordering minors > sexual > other flagged
// categories, then a stricter sexual threshold for unflagged content.
func Evaluate(res moderation.Result) Verdict {
	v := Verdict{
		Categories:     copyCategories(res.Categories),
		CategoryScores: copyScores(res.CategoryScores),
	}

	triggered := res.Triggered()
	if res.Flagged && len(triggered) > 0 {
		v.Status = StatusNotSafe
		switch {
		case anyContains(triggered, "minor"):
			v.Reason = ReasonMinors
			v.Confidence = minorsConfidence
		case anyContains(triggered, "sexual"):
			v.Reason = ReasonSexual
			v.Confidence = clamp(res.Score("sexual", sexualDefaultScore), sexualFloor, 1)
		default:
			v.Reason = ReasonFlaggedPrefix + strings.Join(triggered, ", ")
			v.Confidence = flaggedConfidence
		}
		v.Confidence = round3(v.Confidence)
		return v
	}

	if sexual := res.Score("sexual", 0); sexual > highSexualScore {
		v.Status = StatusNotSafe
		v.Reason = ReasonHighSexual
		v.Confidence = round3(sexual)
		return v
	}

	v.Status = StatusSafe
	v.Reason = ReasonSafe
	v.Confidence = round3(clamp(1-res.MaxScore(), 0, 1))
	return v
}

// Failed is the verdict for a request that could not be moderated.
func Failed(reason string) Verdict {
	return Verdict{
		Status:         StatusError,
		Reason:         reason,
		Categories:     map[string]bool{},
		CategoryScores: map[string]float64{},
	}
}

func anyContains(names []string, needle string) bool {
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func copyCategories(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
