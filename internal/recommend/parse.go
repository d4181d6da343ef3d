package recommend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"insightpipe/internal/domain"
)

// MalformedError carries the raw reply that failed validation.
type MalformedError struct {
	Reason string
	Raw    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed recommendation: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return domain.ErrMalformedResponse
}

var requiredFields = []string{"cluster_summary", "impact", "recommendation", "urgency"}

// Parse validates a reasoning reply strictly: one JSON object holding
// exactly the four string fields, with impact and urgency drawn from their
// enums. Markdown code fences around the object are tolerated.
func Parse(text string) (domain.Recommendation, error) {
	malformed := func(format string, args ...any) (domain.Recommendation, error) {
		return domain.Recommendation{}, &MalformedError{Reason: fmt.Sprintf(format, args...), Raw: text}
	}

	body := stripFences(text)
	if body == "" {
		return malformed("empty reply")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return malformed("not a JSON object: %v", err)
	}
	if fields == nil {
		return malformed("not a JSON object")
	}
	if dec.More() {
		return malformed("trailing content after JSON object")
	}

	var unexpected []string
	for key := range fields {
		if !isRequired(key) {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return malformed("unexpected fields %s", strings.Join(unexpected, ", "))
	}

	values := make(map[string]string, len(requiredFields))
	for _, key := range requiredFields {
		raw, ok := fields[key]
		if !ok {
			return malformed("missing field %q", key)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '"' {
			return malformed("field %q is not a string", key)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return malformed("field %q: %v", key, err)
		}
		values[key] = s
	}

	rec := domain.Recommendation{
		Recommendation: strings.TrimSpace(values["recommendation"]),
		Impact:         domain.Impact(values["impact"]),
		Urgency:        domain.Urgency(values["urgency"]),
		ClusterSummary: strings.TrimSpace(values["cluster_summary"]),
	}
	if rec.Recommendation == "" {
		return malformed("empty recommendation")
	}
	if !rec.Impact.Valid() {
		return malformed("impact %q is not one of low, medium, high", values["impact"])
	}
	if !rec.Urgency.Valid() {
		return malformed("urgency %q is not one of later, soon, immediate", values["urgency"])
	}
	return rec, nil
}

func isRequired(key string) bool {
	for _, f := range requiredFields {
		if f == key {
			return true
		}
	}
	return false
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop an info string such as "json".
		if lang := strings.TrimSpace(s[:nl]); !strings.ContainsAny(lang, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
