package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"call-review-go/internal/errs"
)

// ExtractJSON finds the first balanced JSON object in a model reply.
// It strips common markdown fences first and ignores braces inside strings.
func ExtractJSON(s string) string {
	if s == "" {
		return ""
	}

	// normalize newlines
	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove markdown fences (commonly output by LLMs)
	for _, r := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}

	// no balanced found
	return ""
}

// Decode extracts the JSON object from reply into out. A reply without a
// decodable object is a capability failure (malformed output).
func Decode(capability, reply string, out any) error {
	raw := ExtractJSON(reply)
	if raw == "" {
		return &errs.CapabilityFailure{Capability: capability, Err: errors.New("no JSON object in reply")}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &errs.CapabilityFailure{Capability: capability, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return nil
}
