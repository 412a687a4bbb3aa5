// Package partialjson turns streamed model text into JSON values. It offers a
// truncation-tolerant parser for best-effort snapshots while text is still
// arriving, and a strict parse with fallback extraction once it is complete.
package partialjson

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is the decoded form of a JSON object. Keys keep the order in which
// the worker produced them.
type Object = orderedmap.OrderedMap[string, any]

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 512

// ErrDepthExceeded is returned when input nests deeper than the parser allows.
// It is not a syntax error and is never swallowed by fallback extraction.
var ErrDepthExceeded = errors.New("json nesting depth exceeded")

// SyntaxError reports malformed JSON at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

// status describes how far a value got before input ran out.
type status int

const (
	// complete: the value was fully terminated.
	complete status = iota
	// truncated: a container was cut off; the value holds what closed so far.
	truncated
	// dropped: a scalar or key was cut off and yields nothing.
	dropped
)

type parser struct {
	s     string
	i     int
	depth int
	// final marks the input as complete, so a number running to the end of
	// it is terminated rather than dropped.
	final bool
}

// ParsePartial parses a possibly truncated JSON prefix and returns the
// deepest value obtainable by closing every open structure at the end of the
// input. A dangling scalar (unterminated string, number, literal) or key is
// dropped rather than guessed. ok is false when the text is not a valid JSON
// prefix or holds no value yet.
//
// A leading Markdown code fence is skipped. After a complete value only
// whitespace or a closing fence may follow.
func ParsePartial(text string) (v any, ok bool) {
	p := &parser{s: skipFence(text)}
	v, st, err := p.value()
	if err != nil || st == dropped {
		return nil, false
	}
	p.skipSpace()
	if rest := p.s[p.i:]; rest != "" && !closesFence(rest) {
		return nil, false
	}
	return v, true
}

// closesFence reports whether rest opens with a closing ``` fence, or with
// the start of one that has not fully arrived.
func closesFence(rest string) bool {
	if len(rest) < len("```") {
		return strings.HasPrefix("```", rest)
	}
	return strings.HasPrefix(rest, "```")
}

// Parse is a strict parse: exactly one complete value with nothing but
// whitespace around it. Failures are *SyntaxError, or ErrDepthExceeded.
func Parse(text string) (any, error) {
	p := &parser{s: text, final: true}
	v, st, err := p.value()
	if err != nil {
		return nil, err
	}
	if st != complete {
		return nil, p.errorf("unexpected end of input")
	}
	p.skipSpace()
	if p.i < len(p.s) {
		return nil, p.errorf("invalid character %q after top-level value", p.s[p.i])
	}
	return v, nil
}

func (p *parser) errorf(format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: p.i, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.i >= len(p.s) }

func (p *parser) skipSpace() {
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *parser) value() (any, status, error) {
	p.skipSpace()
	if p.eof() {
		return nil, dropped, nil
	}
	switch c := p.s[p.i]; {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case c == 't':
		return p.literal("true", true)
	case c == 'f':
		return p.literal("false", false)
	case c == 'n':
		return p.literal("null", nil)
	default:
		return nil, 0, p.errorf("invalid character %q looking for beginning of value", c)
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return ErrDepthExceeded
	}
	return nil
}

func (p *parser) object() (any, status, error) {
	if err := p.enter(); err != nil {
		return nil, 0, err
	}
	defer func() { p.depth-- }()

	obj := orderedmap.New[string, any]()
	p.i++ // '{'
	for first := true; ; first = false {
		p.skipSpace()
		if p.eof() {
			return obj, truncated, nil
		}
		if p.s[p.i] == '}' && first {
			p.i++
			return obj, complete, nil
		}
		if p.s[p.i] != '"' {
			return nil, 0, p.errorf("invalid character %q looking for object key", p.s[p.i])
		}
		k, st, err := p.str()
		if err != nil {
			return nil, 0, err
		}
		if st == dropped {
			return obj, truncated, nil
		}
		key := k.(string)

		p.skipSpace()
		if p.eof() {
			return obj, truncated, nil
		}
		if p.s[p.i] != ':' {
			return nil, 0, p.errorf("invalid character %q after object key", p.s[p.i])
		}
		p.i++

		v, st, err := p.value()
		if err != nil {
			return nil, 0, err
		}
		switch st {
		case dropped:
			return obj, truncated, nil
		case truncated:
			obj.Set(key, v)
			return obj, truncated, nil
		}
		obj.Set(key, v)

		p.skipSpace()
		if p.eof() {
			return obj, truncated, nil
		}
		switch p.s[p.i] {
		case ',':
			p.i++
			p.skipSpace()
			if !p.eof() && p.s[p.i] == '}' {
				return nil, 0, p.errorf("invalid character '}' after ','")
			}
		case '}':
			p.i++
			return obj, complete, nil
		default:
			return nil, 0, p.errorf("invalid character %q after object value", p.s[p.i])
		}
	}
}

func (p *parser) array() (any, status, error) {
	if err := p.enter(); err != nil {
		return nil, 0, err
	}
	defer func() { p.depth-- }()

	arr := []any{}
	p.i++ // '['
	for first := true; ; first = false {
		p.skipSpace()
		if p.eof() {
			return arr, truncated, nil
		}
		if p.s[p.i] == ']' && first {
			p.i++
			return arr, complete, nil
		}

		v, st, err := p.value()
		if err != nil {
			return nil, 0, err
		}
		switch st {
		case dropped:
			return arr, truncated, nil
		case truncated:
			return append(arr, v), truncated, nil
		}
		arr = append(arr, v)

		p.skipSpace()
		if p.eof() {
			return arr, truncated, nil
		}
		switch p.s[p.i] {
		case ',':
			p.i++
			p.skipSpace()
			if !p.eof() && p.s[p.i] == ']' {
				return nil, 0, p.errorf("invalid character ']' after ','")
			}
		case ']':
			p.i++
			return arr, complete, nil
		default:
			return nil, 0, p.errorf("invalid character %q after array element", p.s[p.i])
		}
	}
}

func (p *parser) str() (any, status, error) {
	start := p.i
	p.i++ // opening quote
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case '\\':
			p.i += 2
		case '"':
			p.i++
			var out string
			if err := json.Unmarshal([]byte(p.s[start:p.i]), &out); err != nil {
				return nil, 0, &SyntaxError{Offset: start, Msg: "invalid string literal"}
			}
			return out, complete, nil
		default:
			if p.s[p.i] < 0x20 {
				return nil, 0, p.errorf("invalid control character in string")
			}
			p.i++
		}
	}
	p.i = len(p.s)
	return nil, dropped, nil
}

func (p *parser) number() (any, status, error) {
	start := p.i
	for p.i < len(p.s) && strings.IndexByte("+-0123456789.eE", p.s[p.i]) >= 0 {
		p.i++
	}
	if p.eof() && !p.final {
		// More digits may follow.
		return nil, dropped, nil
	}
	lit := p.s[start:p.i]
	if !json.Valid([]byte(lit)) {
		return nil, 0, &SyntaxError{Offset: start, Msg: fmt.Sprintf("invalid number %q", lit)}
	}
	// json.Number keeps integers beyond 2^53 exact.
	return json.Number(lit), complete, nil
}

func (p *parser) literal(word string, v any) (any, status, error) {
	rest := p.s[p.i:]
	if len(rest) < len(word) {
		if strings.HasPrefix(word, rest) {
			p.i = len(p.s)
			return nil, dropped, nil
		}
		return nil, 0, p.errorf("invalid literal")
	}
	if rest[:len(word)] != word {
		return nil, 0, p.errorf("invalid literal")
	}
	p.i += len(word)
	return v, complete, nil
}

// skipFence drops a leading ``` fence line (with optional language tag) so a
// fenced reply still yields partial values while it streams.
func skipFence(text string) string {
	t := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(t, "```") {
		return text
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return ""
	}
	return t[nl+1:]
}
