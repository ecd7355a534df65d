package helpers

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[\\w+-]*[ \\t]*\\n?(.*?)```")

// JSONObjectCandidates lists every balanced {...} span in model output, in
// the order a reader would try them: spans inside fenced code blocks first,
// then spans of the whole text by start offset. Braces inside string
// literals are skipped. Duplicates are dropped.
func JSONObjectCandidates(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(spans []string) {
		for _, s := range spans {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		add(balancedObjects(strings.TrimSpace(m[1])))
	}
	add(balancedObjects(text))
	return out
}

// ExtractJSONObjectWhere returns the first candidate that accept approves. A nil
// accept takes any candidate that parses as a JSON object. When nothing is
// accepted the first candidate is returned with ok=false so callers can
// report why it was rejected; no candidate at all yields "", false.
func ExtractJSONObjectWhere(text string, accept func(obj map[string]json.RawMessage) bool) (string, bool) {
	candidates := JSONObjectCandidates(text)
	for _, c := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			continue
		}
		if accept == nil || accept(obj) {
			return c, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], false
	}
	return "", false
}

// ExtractJSONObject pulls the first well-formed JSON object out of model
// output, preferring fenced code blocks.
func ExtractJSONObject(text string) (string, bool) {
	return ExtractJSONObjectWhere(text, nil)
}

func balancedObjects(text string) []string {
	var out []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end := matchBrace(text, i); end > i {
			out = append(out, text[i:end+1])
		}
	}
	return out
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
