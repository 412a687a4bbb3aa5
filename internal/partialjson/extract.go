package partialjson

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zhubert/koine/internal/errs"
)

// Strategy names the extraction step that produced a final value.
type Strategy string

const (
	StrategyDirect           Strategy = "direct"
	StrategyCodeBlock        Strategy = "code-block"
	StrategyObjectExtraction Strategy = "object-extraction"
	StrategyArrayExtraction  Strategy = "array-extraction"
)

// previewLimit bounds the input excerpt included in parse failure messages.
const previewLimit = 200

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")

type attempt struct {
	strategy Strategy
	find     func(string) (string, bool, string)
}

var attempts = []attempt{
	{StrategyDirect, func(s string) (string, bool, string) { return strings.TrimSpace(s), true, "" }},
	{StrategyCodeBlock, fencedBlock},
	{StrategyObjectExtraction, func(s string) (string, bool, string) { return balanced(s, '{', '}') }},
	{StrategyArrayExtraction, func(s string) (string, bool, string) { return balanced(s, '[', ']') }},
}

// Extract recovers a JSON value from text, trying in order: a strict parse,
// the contents of the first fenced code block, the first balanced {...},
// the first balanced [...]. Only syntax errors move on to the next step.
//
// When every step fails the error is PARSE_ERROR listing each step's reason
// and a preview of text; RawText carries the full text.
func Extract(text string) (any, Strategy, error) {
	reasons := make([]string, 0, len(attempts))
	for _, a := range attempts {
		candidate, found, why := a.find(text)
		if !found {
			reasons = append(reasons, fmt.Sprintf("%s: %s", a.strategy, why))
			continue
		}
		v, err := Parse(candidate)
		if err == nil {
			return v, a.strategy, nil
		}
		var syntaxErr *SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, "", errs.Wrap(errs.CodeInternal, err, "parse worker output")
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.strategy, syntaxErr.Error()))
	}

	return nil, "", &errs.Error{
		Code: errs.CodeParse,
		Message: fmt.Sprintf("failed to parse JSON from worker output (%s); text: %q",
			strings.Join(reasons, "; "), preview(text)),
		RawText: text,
	}
}

func fencedBlock(s string) (string, bool, string) {
	m := fencePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false, "no fenced code block found"
	}
	return strings.TrimSpace(m[1]), true, ""
}

// balanced returns the first substring that opens with open and closes at
// the matching closing byte, skipping brackets inside string literals.
func balanced(s string, open, closing byte) (string, bool, string) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false, fmt.Sprintf("no %q found", open)
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true, ""
			}
		}
	}
	return "", false, fmt.Sprintf("unbalanced %q starting at offset %d", open, start)
}

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return strings.ToValidUTF8(s[:previewLimit], "") + "..."
}
