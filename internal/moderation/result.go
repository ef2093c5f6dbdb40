// Package moderation talks to the external moderation classifier and reduces
// whatever it returns to a single Result shape.
package moderation

import "sort"

// Result is the classifier output for one input. Category names are open-ended;
// lookups for absent names yield false or 0.
type Result struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
	// Order is the classifier's natural key order across both maps.
	Order []string `json:"-"`
}

// Keys returns every category name, in classifier order first and then any
// remaining names sorted.
func (r Result) Keys() []string {
	seen := make(map[string]struct{}, len(r.Order))
	keys := make([]string, 0, len(r.Categories)+len(r.CategoryScores))
	for _, name := range r.Order {
		if _, dup := seen[name]; dup {
			continue
		}
		_, inCategories := r.Categories[name]
		_, inScores := r.CategoryScores[name]
		if !inCategories && !inScores {
			continue
		}
		seen[name] = struct{}{}
		keys = append(keys, name)
	}

	var rest []string
	for name := range r.Categories {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			rest = append(rest, name)
		}
	}
	for name := range r.CategoryScores {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Triggered lists the categories whose flag is set, in key order.
func (r Result) Triggered() []string {
	var names []string
	for _, name := range r.Keys() {
		if r.Categories[name] {
			names = append(names, name)
		}
	}
	return names
}

// Score returns the named score, or fallback when the classifier did not report it.
func (r Result) Score(name string, fallback float64) float64 {
	if score, ok := r.CategoryScores[name]; ok {
		return score
	}
	return fallback
}

// MaxScore is the largest reported score, or 0 when there are none.
func (r Result) MaxScore() float64 {
	highest := 0.0
	first := true
	for _, score := range r.CategoryScores {
		if first || score > highest {
			highest = score
			first = false
		}
	}
	return highest
}

// withDefaults replaces nil maps so the result always serialises as objects.
func (r Result) withDefaults() Result {
	if r.Categories == nil {
		r.Categories = map[string]bool{}
	}
	if r.CategoryScores == nil {
		r.CategoryScores = map[string]float64{}
	}
	return r
}
