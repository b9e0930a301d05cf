// Package jsonx pulls JSON objects out of free-form LLM replies.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoObject is returned when a reply contains no decodable JSON object.
var ErrNoObject = errors.New("no json object found")

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Fenced returns the body of the first ``` fenced block, if any.
func Fenced(text string) (string, bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	body := strings.TrimSpace(m[1])
	return body, body != ""
}

// FirstObject returns the first balanced {...} span in text. Braces inside
// string literals are ignored.
func FirstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > 0 {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing text[open], or -1.
func matchBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
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

// Decode finds a JSON object in text (fenced block first, then the first
// balanced object) and unmarshals it into v.
func Decode(text string, v any) error {
	if body, ok := Fenced(text); ok {
		if obj, ok := FirstObject(body); ok {
			if err := json.Unmarshal([]byte(obj), v); err == nil {
				return nil
			}
		}
	}
	obj, ok := FirstObject(text)
	if !ok {
		return ErrNoObject
	}
	return json.Unmarshal([]byte(obj), v)
}
