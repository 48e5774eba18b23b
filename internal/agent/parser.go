package agent

import (
	"regexp"
	"strings"
)

// callPattern recognises the in-band call syntax <function=NAME{ARGS}>.
// NAME is an identifier token; ARGS is matched non-greedily so that a nested
// object closes on the first "}" that is immediately followed by ">", which
// lets fragments like <function=f{"a":{"n":1}}> parse whole.
var callPattern = regexp.MustCompile(`<function=([A-Za-z0-9_]+)\{(.*?)\}>`)

// RawCall is one recognised call fragment: the tool name and the raw,
// undecoded argument text between the outer braces.
type RawCall struct {
	Name    string
	RawArgs string
}

// Arguments returns the argument fragment as a decodable JSON object literal,
// adding the wrapping braces when the fragment was supplied without them.
// Decoding (and decode-failure handling) stays with the caller.
func (c RawCall) Arguments() string {
	args := strings.TrimSpace(c.RawArgs)
	if strings.HasPrefix(args, "{") {
		return args
	}
	return "{" + args + "}"
}

// ParseCalls scans free text for call fragments and returns them in order of
// appearance. Zero matches is a normal outcome; malformed input never causes
// an error — it simply does not match.
func ParseCalls(text string) []RawCall {
	matches := callPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]RawCall, 0, len(matches))
	for _, m := range matches {
		calls = append(calls, RawCall{Name: m[1], RawArgs: m[2]})
	}
	return calls
}
