package client

import (
	"bufio"
	"context"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const maxEventBytes = 4 << 20

// TextStream is a streaming text answer. Iterate with Next and Text:
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//
// SessionID, Usage and FullText read ahead as far as they need to; chunks
// read that way are still returned by Next. Close releases the connection.
type TextStream struct {
	body io.ReadCloser
	sc   *bufio.Scanner

	pending   []string
	cur       string
	full      strings.Builder
	sessionID string
	usage     *Usage
	finished  bool
	err       error
}

// StreamText starts a streaming text answer. Non-2xx responses are returned
// as errors here; failures during the stream surface through Err.
func (c *Client) StreamText(ctx context.Context, req Request) (*TextStream, error) {
	body, err := c.buildBody(req, nil)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, "/stream", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Code: CodeHTTP, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, errorFromResponse(resp, data)
	}
	return newTextStream(resp.Body), nil
}

func newTextStream(body io.ReadCloser) *TextStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	return &TextStream{body: body, sc: sc}
}

// Next advances to the next text chunk.
func (s *TextStream) Next() bool {
	for len(s.pending) == 0 && s.advance() {
	}
	if len(s.pending) == 0 {
		return false
	}
	s.cur, s.pending = s.pending[0], s.pending[1:]
	return true
}

// Text returns the chunk Next advanced to.
func (s *TextStream) Text() string { return s.cur }

// SessionID returns the session id, reading ahead until the session event.
func (s *TextStream) SessionID() (string, error) {
	for s.sessionID == "" && s.advance() {
	}
	if s.sessionID != "" {
		return s.sessionID, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", &Error{Code: CodeNoSession, Message: "stream ended without session ID"}
}

// Usage returns token usage, reading ahead until the result event.
func (s *TextStream) Usage() (Usage, error) {
	for s.usage == nil && s.advance() {
	}
	if s.usage != nil {
		return *s.usage, nil
	}
	if s.err != nil {
		return Usage{}, s.err
	}
	return Usage{}, &Error{Code: CodeNoUsage, Message: "stream ended without usage information"}
}

// FullText reads the stream to the end and returns all text received.
func (s *TextStream) FullText() (string, error) {
	for s.advance() {
	}
	return s.full.String(), s.err
}

// Err is the failure that ended the stream, if any.
func (s *TextStream) Err() error { return s.err }

// Close releases the underlying connection.
func (s *TextStream) Close() error {
	s.finished = true
	return s.body.Close()
}

// advance handles one event and reports whether more may follow.
func (s *TextStream) advance() bool {
	if s.finished {
		return false
	}
	name, data, ok := s.readEvent()
	if !ok {
		s.finish()
		return false
	}
	s.handle(name, data)
	return !s.finished
}

func (s *TextStream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	_ = s.body.Close()
}

func (s *TextStream) fail(err *Error) {
	if s.err == nil {
		s.err = err
	}
	s.finish()
}

// readEvent returns the next event that has both a name and data. A final
// block not followed by a blank line is still returned at end of input.
func (s *TextStream) readEvent() (name, data string, ok bool) {
	var lines []string
	for s.sc.Scan() {
		line := strings.TrimSuffix(s.sc.Text(), "\r")
		if line == "" {
			if name != "" && len(lines) > 0 {
				return name, strings.Join(lines, "\n"), true
			}
			name, lines = "", nil
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			lines = append(lines, value)
		}
	}
	if err := s.sc.Err(); err != nil {
		s.fail(&Error{Code: CodeStream, Message: "read stream: " + err.Error(), Err: err})
		return "", "", false
	}
	if name != "" && len(lines) > 0 {
		return name, strings.Join(lines, "\n"), true
	}
	return "", "", false
}

func (s *TextStream) handle(name, data string) {
	critical := name == "session" || name == "result" || name == "error" || name == "done"
	if !gjson.Valid(data) {
		if critical {
			s.parseFailure(name)
		}
		return
	}
	ev := gjson.Parse(data)

	switch name {
	case "session":
		sid := ev.Get("sessionId")
		if sid.Type != gjson.String {
			s.parseFailure(name)
			return
		}
		if s.sessionID == "" {
			s.sessionID = sid.String()
		}
	case "text":
		text := ev.Get("text")
		if text.Type != gjson.String {
			return
		}
		s.full.WriteString(text.String())
		s.pending = append(s.pending, text.String())
	case "result":
		sid := ev.Get("sessionId")
		usage, ok := decodeUsage(ev.Get("usage"))
		if sid.Type != gjson.String || !ok {
			s.parseFailure(name)
			return
		}
		s.usage = &usage
		if s.sessionID == "" {
			s.sessionID = sid.String()
		}
	case "error":
		msg := ev.Get("error")
		if msg.Type != gjson.String {
			s.parseFailure(name)
			return
		}
		code := ev.Get("code").String()
		if code == "" {
			code = CodeStream
		}
		s.fail(&Error{Code: code, Message: msg.String(), RawText: ev.Get("rawText").String()})
	case "done":
		s.finish()
	}
}

func (s *TextStream) parseFailure(name string) {
	s.fail(&Error{Code: CodeSSEParse, Message: "failed to parse critical SSE event: " + name})
}

func decodeUsage(v gjson.Result) (Usage, bool) {
	if !v.IsObject() {
		return Usage{}, false
	}
	for _, key := range []string{"inputTokens", "outputTokens", "totalTokens"} {
		if v.Get(key).Type != gjson.Number {
			return Usage{}, false
		}
	}
	var u Usage
	if err := json.Unmarshal([]byte(v.Raw), &u); err != nil {
		return Usage{}, false
	}
	return u, true
}
