package moderation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// ErrMalformedResult is returned when a classifier response cannot be reduced to a Result.
var ErrMalformedResult = errors.New("malformed moderation result")

// normalizer tries one conversion. ok=false means "not my shape, try the next one".
type normalizer func(v any) (res Result, ok bool, err error)

// normalizers run in priority order; the first that recognises the value wins.
var normalizers = []normalizer{
	fromResult,
	fromSDKResult,
	fromMap,
	fromJSON,
}

// Normalize converts a classifier result of any supported shape into a Result.
func Normalize(v any) (Result, error) {
	for _, n := range normalizers {
		res, ok, err := n(v)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res.withDefaults(), nil
		}
	}
	return Result{}, fmt.Errorf("%w: unsupported type %T", ErrMalformedResult, v)
}

func fromResult(v any) (Result, bool, error) {
	switch r := v.(type) {
	case Result:
		return r, true, nil
	case *Result:
		if r != nil {
			return *r, true, nil
		}
	}
	return Result{}, false, nil
}

// fromSDKResult dumps the SDK's typed result through its JSON tags, which keeps
// the wire category names ("sexual/minors") and their declaration order.
func fromSDKResult(v any) (Result, bool, error) {
	var sdk openai.Result
	switch r := v.(type) {
	case openai.Result:
		sdk = r
	case *openai.Result:
		if r == nil {
			return Result{}, false, nil
		}
		sdk = *r
	default:
		return Result{}, false, nil
	}

	raw, err := json.Marshal(sdk)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	res, err := parseJSON(raw)
	return res, err == nil, err
}

func fromMap(v any) (Result, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return Result{}, false, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	res, err := parseJSON(raw)
	return res, err == nil, err
}

func fromJSON(v any) (Result, bool, error) {
	var raw []byte
	switch r := v.(type) {
	case json.RawMessage:
		raw = r
	case []byte:
		raw = r
	case string:
		raw = []byte(r)
	default:
		return Result{}, false, nil
	}
	res, err := parseJSON(raw)
	return res, err == nil, err
}

// parseJSON walks the document in order so category keys keep the classifier's
// ordering. A full moderation response envelope is accepted and its first
// result used.
func parseJSON(raw []byte) (Result, error) {
	if !gjson.ValidBytes(raw) {
		return Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResult)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Result{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedResult)
	}
	if results := doc.Get("results"); results.Exists() {
		first := results.Get("0")
		if !first.IsObject() {
			return Result{}, fmt.Errorf("%w: response contains no results", ErrMalformedResult)
		}
		doc = first
	}

	flagged := doc.Get("flagged")
	categories := doc.Get("categories")
	scores := doc.Get("category_scores")
	if !flagged.Exists() && !categories.Exists() && !scores.Exists() {
		return Result{}, fmt.Errorf("%w: no moderation fields present", ErrMalformedResult)
	}
	if flagged.Exists() && !flagged.IsBool() {
		return Result{}, fmt.Errorf("%w: flagged is not a boolean", ErrMalformedResult)
	}

	res := Result{
		Flagged:        flagged.Bool(),
		Categories:     map[string]bool{},
		CategoryScores: map[string]float64{},
	}
	seen := map[string]struct{}{}
	addKey := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			res.Order = append(res.Order, name)
		}
	}

	var walkErr error
	categories.ForEach(func(key, value gjson.Result) bool {
		if !value.IsBool() && value.Type != gjson.Null {
			walkErr = fmt.Errorf("%w: category %q is not a boolean", ErrMalformedResult, key.String())
			return false
		}
		res.Categories[key.String()] = value.Bool()
		addKey(key.String())
		return true
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	scores.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null {
			return true
		}
		if value.Type != gjson.Number {
			walkErr = fmt.Errorf("%w: score for %q is not a number", ErrMalformedResult, key.String())
			return false
		}
		res.CategoryScores[key.String()] = value.Float()
		addKey(key.String())
		return true
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	return res, nil
}
