// Package rtl shapes text for right-to-left presentation.
//
// A shaped paragraph starts with RIGHT-TO-LEFT MARK and every embedded
// left-to-right run (Latin words, European digits and the punctuation
// between them) is wrapped in LEFT-TO-RIGHT ISOLATE ... POP DIRECTIONAL
// ISOLATE. The marks are stored with the text, so the direction survives
// any transport or storage that preserves the string.
package rtl

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/bidi"

	"call-review-go/internal/types"
)

const (
	RLM = '\u200f'
	LRM = '\u200e'
	LRI = '\u2066'
	RLI = '\u2067'
	FSI = '\u2068'
	PDI = '\u2069'
)

var explicitControls = map[rune]bool{
	LRM: true, RLM: true, LRI: true, RLI: true, FSI: true, PDI: true,
	'\u202a': true, '\u202b': true, '\u202c': true, '\u202d': true, '\u202e': true,
}

// DirectionFor returns the paragraph direction used for lang.
func DirectionFor(lang types.Language) types.Direction {
	if lang == types.LangArabic {
		return types.DirRTL
	}
	return types.DirLTR
}

func class(r rune) bidi.Class {
	p, _ := bidi.LookupRune(r)
	return p.Class()
}

func strong(c bidi.Class) bool { return c == bidi.L || c == bidi.EN }

// joins reports whether c may sit inside an LTR run between two strong
// characters.
func joins(c bidi.Class) bool {
	switch c {
	case bidi.L, bidi.EN, bidi.ES, bidi.ET, bidi.CS, bidi.WS, bidi.ON, bidi.NSM, bidi.BN:
		return true
	}
	return false
}

// Strip removes explicit directional controls.
func Strip(s string) string {
	return strings.Map(func(r rune) rune {
		if explicitControls[r] {
			return -1
		}
		return r
	}, s)
}

// Shape returns s marked as an RTL paragraph with LTR runs isolated.
// Shape is idempotent.
func Shape(s string) string {
	rs := []rune(Strip(s))
	var b strings.Builder
	b.Grow(len(s) + 16)
	b.WriteRune(RLM)
	for i := 0; i < len(rs); {
		if !strong(class(rs[i])) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		end := runEnd(rs, i)
		b.WriteRune(LRI)
		b.WriteString(string(rs[i:end]))
		b.WriteRune(PDI)
		i = end
	}
	return b.String()
}

// runEnd returns the index just past the LTR run starting at start. The run
// ends at its last strong character, plus any ET (%, currency) directly
// following a digit.
func runEnd(rs []rune, start int) int {
	last := start
	for j := start + 1; j < len(rs); j++ {
		c := class(rs[j])
		if !joins(c) {
			break
		}
		if strong(c) {
			last = j
		}
	}
	end := last + 1
	if class(rs[last]) == bidi.EN {
		for end < len(rs) && class(rs[end]) == bidi.ET {
			end++
		}
	}
	return end
}

// Validate checks that s is a correctly shaped RTL paragraph.
func Validate(s string) error {
	if !strings.HasPrefix(s, string(RLM)) {
		return errors.New("rtl: paragraph does not start with RLM")
	}
	inIsolate := false
	for i, r := range s {
		switch r {
		case LRI:
			if inIsolate {
				return fmt.Errorf("rtl: nested isolate at byte %d", i)
			}
			inIsolate = true
			continue
		case PDI:
			if !inIsolate {
				return fmt.Errorf("rtl: unmatched PDI at byte %d", i)
			}
			inIsolate = false
			continue
		case RLI, FSI:
			return fmt.Errorf("rtl: unexpected isolate initiator at byte %d", i)
		}
		c := class(r)
		switch {
		case strong(c) && !inIsolate:
			return fmt.Errorf("rtl: left-to-right character %q outside an isolate at byte %d", r, i)
		case (c == bidi.R || c == bidi.AL) && inIsolate:
			return fmt.Errorf("rtl: right-to-left character %q inside an isolate at byte %d", r, i)
		}
	}
	if inIsolate {
		return errors.New("rtl: unterminated isolate")
	}
	return nil
}

// Run is one directional run of a shaped paragraph.
type Run struct {
	Direction types.Direction `json:"direction"`
	Text      string          `json:"text"`
}

// Runs splits a shaped paragraph into its directional runs, dropping the
// control characters. Two texts with equal Runs render with the same
// directional structure.
func Runs(s string) []Run {
	var (
		out []Run
		cur strings.Builder
		dir = types.DirRTL
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, Run{Direction: dir, Text: cur.String()})
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case LRI:
			flush()
			dir = types.DirLTR
		case PDI:
			flush()
			dir = types.DirRTL
		case RLM:
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
