// Package stream turns provider token streams into visible text and
// reasoning ("thinking") text.
package stream

import (
	"regexp"
	"strings"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

var thinkBlockRe = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// SplitThink is the definitive split of a complete buffer. Closed
// <think> blocks become thinking; an unclosed trailing <think> swallows the
// rest of the buffer; a closing tag with no opener marks everything before it
// as thinking.
func SplitThink(buf string) (visible, thinking string) {
	var thoughts []string
	rest := thinkBlockRe.ReplaceAllStringFunc(buf, func(m string) string {
		sub := thinkBlockRe.FindStringSubmatch(m)
		thoughts = append(thoughts, sub[1])
		return ""
	})
	if i := indexFold(rest, openTag); i >= 0 {
		thoughts = append(thoughts, rest[i+len(openTag):])
		rest = rest[:i]
	}
	if i := indexFold(rest, closeTag); i >= 0 {
		thoughts = append([]string{rest[:i]}, thoughts...)
		rest = rest[i+len(closeTag):]
	}
	return strings.TrimSpace(rest), joinThoughts(thoughts)
}

func joinThoughts(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// Splitter accumulates deltas and produces a speculative split after each one.
// A trailing fragment that could be the start of a tag is held back so a tag
// spanning two chunks never leaks into visible text.
type Splitter struct {
	buf strings.Builder
}

// Push appends delta and returns the current speculative split.
func (s *Splitter) Push(delta string) (visible, thinking string) {
	s.buf.WriteString(delta)
	raw := s.buf.String()
	held := partialTagSuffix(raw)
	return SplitThink(raw[:len(raw)-held])
}

// Final returns the definitive split of everything pushed so far.
func (s *Splitter) Final() (visible, thinking string) {
	return SplitThink(s.buf.String())
}

// Raw returns the unsplit buffer.
func (s *Splitter) Raw() string { return s.buf.String() }

// partialTagSuffix returns the length of the longest suffix of buf that is a
// proper prefix of either tag.
func partialTagSuffix(buf string) int {
	best := 0
	for _, tag := range []string{openTag, closeTag} {
		for k := len(tag) - 1; k > best; k-- {
			if k <= len(buf) && strings.EqualFold(buf[len(buf)-k:], tag[:k]) {
				best = k
				break
			}
		}
	}
	return best
}

// indexFold is an ASCII case-insensitive strings.Index for tag lookups.
func indexFold(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}
