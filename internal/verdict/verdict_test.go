package verdict

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/example/nsfw-check/internal/moderation"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		in         moderation.Result
		status     Status
		reason     string
		confidence float64
	}{
		{
			name: "minors override",
			in: moderation.Result{
				Flagged:        true,
				Categories:     map[string]bool{"sexual": true, "sexual/minors": true},
				CategoryScores: map[string]float64{"sexual": 0.99, "sexual/minors": 0.2},
			},
			status:     StatusNotSafe,
			reason:     ReasonMinors,
			confidence: 0.95,
		},
		{
			name: "sexual uses score",
			in: moderation.Result{
				Flagged:        true,
				Categories:     map[string]bool{"sexual": true},
				CategoryScores: map[string]float64{"sexual": 0.92},
			},
			status:     StatusNotSafe,
			reason:     ReasonSexual,
			confidence: 0.92,
		},
		{
			name: "sexual clamped up",
			in: moderation.Result{
				Flagged:        true,
				Categories:     map[string]bool{"Sexual": true},
				CategoryScores: map[string]float64{"sexual": 0.10},
			},
			status:     StatusNotSafe,
			reason:     ReasonSexual,
			confidence: 0.85,
		},
		{
			name: "sexual score missing",
			in: moderation.Result{
				Flagged:    true,
				Categories: map[string]bool{"sexual": true},
			},
			status:     StatusNotSafe,
			reason:     ReasonSexual,
			confidence: 0.95,
		},
		{
			name: "other categories in natural order",
			in: moderation.Result{
				Flagged:        true,
				Categories:     map[string]bool{"violence": true, "hate": false, "harassment": true},
				CategoryScores: map[string]float64{"violence": 0.9, "harassment": 0.8},
				Order:          []string{"violence", "hate", "harassment"},
			},
			status:     StatusNotSafe,
			reason:     "Flagged categories: violence, harassment",
			confidence: 0.85,
		},
		{
			name: "flagged without triggered categories falls through",
			in: moderation.Result{
				Flagged:        true,
				Categories:     map[string]bool{"sexual": false},
				CategoryScores: map[string]float64{"sexual": 0.3},
			},
			status:     StatusSafe,
			reason:     ReasonSafe,
			confidence: 0.7,
		},
		{
			name: "unflagged high sexual score",
			in: moderation.Result{
				CategoryScores: map[string]float64{"sexual": 0.75},
			},
			status:     StatusNotSafe,
			reason:     ReasonHighSexual,
			confidence: 0.75,
		},
		{
			name: "sexual score at threshold is safe",
			in: moderation.Result{
				CategoryScores: map[string]float64{"sexual": 0.7},
			},
			status:     StatusSafe,
			reason:     ReasonSafe,
			confidence: 0.3,
		},
		{
			name: "safe",
			in: moderation.Result{
				Categories:     map[string]bool{"sexual": false, "self-harm": false},
				CategoryScores: map[string]float64{"sexual": 0.02, "self-harm": 0.01},
			},
			status:     StatusSafe,
			reason:     ReasonSafe,
			confidence: 0.98,
		},
		{
			name:       "empty result",
			in:         moderation.Result{},
			status:     StatusSafe,
			reason:     ReasonSafe,
			confidence: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.reason, got.Reason)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.NotNil(t, got.Categories)
			assert.NotNil(t, got.CategoryScores)
		})
	}
}

func TestEvaluateDoesNotAliasInput(t *testing.T) {
	in := moderation.Result{
		Categories:     map[string]bool{"sexual": false},
		CategoryScores: map[string]float64{"sexual": 0.1},
	}
	got := Evaluate(in)
	got.CategoryScores["sexual"] = 1

	assert.Equal(t, 0.1, in.CategoryScores["sexual"])
}

func TestFailedSerialisesEmptyObjects(t *testing.T) {
	raw, err := json.Marshal(Failed("invalid image: unknown format"))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"status": "Error",
		"reason": "invalid image: unknown format",
		"confidence": 0,
		"categories": {},
		"category_scores": {}
	}`, string(raw))
}

var categoryNames = []string{
	"sexual", "sexual/minors", "harassment", "harassment/threatening", "hate",
	"illicit", "self-harm", "self-harm/intent", "violence", "violence/graphic",
}

func genResult(t *rapid.T) moderation.Result {
	res := moderation.Result{
		Flagged:        rapid.Bool().Draw(t, "flagged"),
		Categories:     map[string]bool{},
		CategoryScores: map[string]float64{},
	}
	for _, name := range categoryNames {
		if rapid.Bool().Draw(t, "has_"+name) {
			res.Categories[name] = rapid.Bool().Draw(t, "flag_"+name)
		}
		if rapid.Bool().Draw(t, "has_score_"+name) {
			res.CategoryScores[name] = rapid.Float64Range(0, 1).Draw(t, "score_"+name)
		}
	}
	return res
}

func TestPropertyMinorsOverride(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		res := genResult(t)
		res.Flagged = true
		res.Categories["sexual/minors"] = true

		got := Evaluate(res)
		if got.Status != StatusNotSafe || got.Reason != ReasonMinors || got.Confidence != 0.95 {
			t.Fatalf("minors override not applied: %+v", got)
		}
	})
}

func TestPropertySexualClamp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		score := rapid.Float64Range(0, 1).Draw(t, "score")
		res := moderation.Result{
			Flagged:        true,
			Categories:     map[string]bool{"sexual": true},
			CategoryScores: map[string]float64{"sexual": score},
		}

		got := Evaluate(res)
		if got.Reason != ReasonSexual {
			t.Fatalf("unexpected reason %q", got.Reason)
		}
		if got.Confidence < 0.85 || got.Confidence > 1 {
			t.Fatalf("confidence %v outside [0.85, 1] for score %v", got.Confidence, score)
		}
	})
}

func TestPropertyUnflaggedHighSexualIsRaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		res := genResult(t)
		res.Flagged = false
		score := rapid.Float64Range(0.701, 1).Draw(t, "sexual")
		res.CategoryScores["sexual"] = score

		got := Evaluate(res)
		if got.Status != StatusNotSafe || got.Reason != ReasonHighSexual {
			t.Fatalf("expected high sexual verdict, got %+v", got)
		}
		if got.Confidence != round3(score) {
			t.Fatalf("confidence %v, want %v", got.Confidence, round3(score))
		}
	})
}

func TestPropertySafeConfidence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		res := genResult(t)
		res.Flagged = false
		res.CategoryScores["sexual"] = rapid.Float64Range(0, 0.7).Draw(t, "sexual")

		highest := 0.0
		for _, score := range res.CategoryScores {
			highest = math.Max(highest, score)
		}

		got := Evaluate(res)
		if got.Status != StatusSafe {
			t.Fatalf("expected Safe, got %+v", got)
		}
		if math.Abs(got.Confidence-(1-highest)) > 0.0005+1e-12 {
			t.Fatalf("confidence %v, want about %v", got.Confidence, 1-highest)
		}
	})
}

func TestPropertyEvaluateIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		res := genResult(t)
		res.Order = rapid.Permutation(categoryNames).Draw(t, "order")

		first := Evaluate(res)
		second := Evaluate(res)
		if first.Status != second.Status || first.Reason != second.Reason || first.Confidence != second.Confidence {
			t.Fatalf("verdicts differ: %+v vs %+v", first, second)
		}
		if first.Confidence < 0 || first.Confidence > 1 {
			t.Fatalf("confidence %v outside [0, 1]", first.Confidence)
		}
	})
}
