package analyze

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/PaperDigest/internal/llm"
)

// ValidationError reports a model answer that does not match the analysis
// schema.
type ValidationError struct {
	PaperID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid analysis for %s: %s", e.PaperID, e.Reason)
	}
	return fmt.Sprintf("invalid analysis for %s: %s: %s", e.PaperID, e.Field, e.Reason)
}

type response struct {
	Summary          string
	TechnicalSummary string
	BusinessImpact   string
	KeyPoints        []string
	Keywords         []string
	RelevanceScore   int
	Category         string
}

func parseResponse(paperID, text string) (response, error) {
	invalid := func(field, format string, args ...any) error {
		return &ValidationError{PaperID: paperID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	m, err := llm.ParseJSONResponse(text)
	if err != nil {
		return response{}, invalid("", "response is not a JSON object")
	}

	var r response
	for _, f := range []struct {
		key  string
		dest *string
	}{
		{"summary", &r.Summary},
		{"technical_summary", &r.TechnicalSummary},
		{"business_impact", &r.BusinessImpact},
		{"category", &r.Category},
	} {
		s, ok := m[f.key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return response{}, invalid(f.key, "missing or not a string")
		}
		*f.dest = strings.TrimSpace(s)
	}

	r.KeyPoints, err = stringList(m, "key_points")
	if err != nil {
		return response{}, invalid("key_points", "%v", err)
	}
	if len(r.KeyPoints) == 0 {
		return response{}, invalid("key_points", "must not be empty")
	}

	r.Keywords, err = stringList(m, "keywords")
	if err != nil {
		return response{}, invalid("keywords", "%v", err)
	}

	score, err := scoreValue(m["relevance_score"])
	if err != nil {
		return response{}, invalid("relevance_score", "%v", err)
	}
	r.RelevanceScore = score

	return r, nil
}

func stringList(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing")
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("contains a non-string element")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// scoreValue accepts a JSON number or a numeric string and rounds it to
// the nearest integer in 0-10.
func scoreValue(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}

	if math.IsNaN(f) || f < 0 || f > 10 {
		return 0, fmt.Errorf("%v outside 0-10", f)
	}
	return int(math.Round(f)), nil
}
