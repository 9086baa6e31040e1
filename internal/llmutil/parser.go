// Package llmutil pulls structured data out of free-form model replies.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// excerptRunes bounds how much of a bad reply is quoted back in errors.
const excerptRunes = 300

// fencedObject matches a JSON object inside a markdown code fence. \x60 is a
// backtick, which raw strings cannot hold.
var fencedObject = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\{.*\\})\\s*\x60\x60\x60")

// ExtractObject finds the JSON object in reply. A fenced block wins; otherwise
// the object runs from the first '{' to the last '}', or to the end of the
// reply when the closing brace is missing. ok is false when reply contains no
// '{' at all, which means the model answered in prose.
func ExtractObject(reply string) (object string, ok bool) {
	reply = strings.TrimSpace(reply)
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return "", false
	}
	if m := fencedObject.FindStringSubmatch(reply); len(m) > 1 {
		return m[1], true
	}
	end := strings.LastIndexByte(reply, '}')
	if end < start {
		return reply[start:], true
	}
	return reply[start : end+1], true
}

// DecodeObject extracts the JSON object from reply and decodes it into T. A
// reply with no object, or one that does not decode, fails with
// schemas.ErrMalformedReply and quotes a short excerpt of what was received.
func DecodeObject[T any](reply string) (*T, error) {
	object, ok := ExtractObject(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply %q", schemas.ErrMalformedReply, Excerpt(reply, excerptRunes))
	}
	var out T
	if err := json.UnmarshalFromString(object, &out); err != nil {
		return nil, fmt.Errorf("%w: %v in %q", schemas.ErrMalformedReply, err, Excerpt(object, excerptRunes))
	}
	return &out, nil
}

// Excerpt cuts s to at most n runes, marking the cut with "...".
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
