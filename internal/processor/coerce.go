package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	isoDurationPattern = regexp.MustCompile(`^p(?:\d+d)?t?(?:(\d+(?:\.\d+)?)h)?(?:(\d+(?:\.\d+)?)m)?(?:\d+(?:\.\d+)?s)?$`)
	quantityPattern    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)(?:\s*(?:-|–|to|עד)\s*\d+(?:[.,]\d+)?)?\s*(\p{L}+)?`)
	stepPrefixPattern  = regexp.MustCompile(`(?i)^(?:step|שלב)\s*#?\d+\s*[.):\-]?\s*`)
	numberPrefix       = regexp.MustCompile(`^#?\d{1,3}(?:\)\s*|\.\s+|\s*:\s*|\s+-\s+)`)
)

var bulletRunes = "-*•·–—●▪○◦►✓"

// maxCoercedValue bounds numeric fields; anything larger is treated as unparsable.
const maxCoercedValue = math.MaxInt32

// coerceMinutes turns a model-provided duration into whole minutes.
// ok is false when nothing usable was found.
func coerceMinutes(v interface{}) (int, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		return nonNegative(val)
	case int:
		return nonNegative(float64(val))
	case int64:
		return nonNegative(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return nonNegative(f)
	case string:
		return parseMinutes(val)
	default:
		return 0, false
	}
}

func nonNegative(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > maxCoercedValue {
		return 0, false
	}
	return int(math.Round(f)), true
}

func parseMinutes(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, false
	}

	if m := isoDurationPattern.FindStringSubmatch(s); m != nil && (m[1] != "" || m[2] != "") {
		hours, _ := strconv.ParseFloat(m[1], 64)
		mins, _ := strconv.ParseFloat(m[2], 64)
		return nonNegative(hours*60 + mins)
	}

	matches := quantityPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	total := 0.0
	for _, m := range matches {
		n, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		if isHourUnit(m[2]) {
			total += n * 60
		} else {
			total += n
		}
	}
	return nonNegative(total)
}

func isHourUnit(unit string) bool {
	switch {
	case unit == "":
		return false
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"), unit == "h":
		return true
	case strings.HasPrefix(unit, "שע"):
		return true
	}
	return false
}

// coerceServings returns the first positive integer found, or false.
func coerceServings(v interface{}) (int, bool) {
	var n int
	var ok bool
	switch val := v.(type) {
	case string:
		m := quantityPattern.FindStringSubmatch(val)
		if m == nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil || f > maxCoercedValue {
			return 0, false
		}
		n, ok = int(math.Floor(f)), true
	default:
		n, ok = coerceMinutes(val)
	}
	if !ok || n < 1 {
		return 0, false
	}
	return n, true
}

// coerceText flattens a scalar into a single line with collapsed whitespace.
func coerceText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return collapseSpaces(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return ""
	case []interface{}:
		for _, item := range val {
			if s := coerceText(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return collapseSpaces(fmt.Sprint(val))
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// coerceList accepts arrays, newline-separated strings, arrays of objects and
// section maps, returning cleaned non-empty entries in order.
func coerceList(v interface{}, steps bool) []string {
	out := []string{}
	var walk func(interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case nil:
		case string:
			for _, line := range strings.Split(val, "\n") {
				if entry := cleanEntry(line, steps); entry != "" {
					out = append(out, entry)
				}
			}
		case []string:
			for _, item := range val {
				walk(item)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		case map[string]interface{}:
			if s := joinObject(val, steps); s != "" {
				walk(s)
				return
			}
			// Sectioned lists ({"dough": [...], "filling": [...]}) have no
			// reliable order in JSON objects; sort for determinism.
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(val[k])
			}
		default:
			if entry := cleanEntry(coerceText(val), steps); entry != "" {
				out = append(out, entry)
			}
		}
	}
	walk(v)
	return out
}

// joinObject renders {"quantity": "2", "unit": "cups", "name": "flour"} or
// {"step": 1, "text": "Mix"} as a single entry.
func joinObject(obj map[string]interface{}, steps bool) string {
	if steps {
		for _, key := range []string{"text", "instruction", "description", "step"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
		return ""
	}

	var parts []string
	for _, key := range []string{"quantity", "amount", "unit", "name", "item", "ingredient"} {
		if s := coerceText(obj[key]); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if note := coerceText(obj["notes"]); note != "" {
		parts = append(parts, "("+note+")")
	}
	return strings.Join(parts, " ")
}

// cleanEntry trims, collapses whitespace and strips list markers until none
// remain, so cleaning its own output is a no-op.
func cleanEntry(s string, steps bool) string {
	s = collapseSpaces(s)
	for {
		prev := s
		s = strings.TrimSpace(strings.TrimLeft(s, bulletRunes))
		if steps {
			s = strings.TrimSpace(stepPrefixPattern.ReplaceAllString(s, ""))
			s = strings.TrimSpace(numberPrefix.ReplaceAllString(s, ""))
		}
		if s == prev {
			return s
		}
	}
}

// coerceTags lowercases and trims model-declared tags. A single string is
// split on commas.
func coerceTags(v interface{}) []string {
	var raw []string
	switch val := v.(type) {
	case string:
		raw = strings.Split(val, ",")
	case []interface{}:
		for _, item := range val {
			raw = append(raw, coerceText(item))
		}
	case []string:
		raw = val
	}

	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(collapseSpaces(strings.TrimLeft(t, "# \t")))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
