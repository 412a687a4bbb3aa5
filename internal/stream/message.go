package stream

import (
	"github.com/tidwall/gjson"
)

// messageKind classifies a worker stream-json line by its type tag.
type messageKind int

const (
	kindOther messageKind = iota
	kindTextDelta
	kindResult
)

func (k messageKind) String() string {
	switch k {
	case kindTextDelta:
		return "text_delta"
	case kindResult:
		return "result"
	default:
		return "other"
	}
}

// workerMessage is one parsed line of worker output.
type workerMessage struct {
	kind      messageKind
	msgType   string
	sessionID string
	text      string
	raw       gjson.Result
}

// parseMessage parses one complete line. ok is false when the line is not a
// JSON object.
//
// Recognized shapes:
//
//	{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"..."}}}
//	{"type":"result","result":"...","session_id":"...","usage":{...}}
//
// Anything else (system init, assistant snapshots, tool traffic) is kindOther
// but may still carry a session_id.
func parseMessage(line []byte) (workerMessage, bool) {
	if !gjson.ValidBytes(line) {
		return workerMessage{}, false
	}
	raw := gjson.ParseBytes(line)
	if !raw.IsObject() {
		return workerMessage{}, false
	}

	msg := workerMessage{
		kind:      kindOther,
		msgType:   raw.Get("type").String(),
		sessionID: raw.Get("session_id").String(),
		raw:       raw,
	}
	switch msg.msgType {
	case "stream_event":
		ev := raw.Get("event")
		if ev.Get("type").String() == "content_block_delta" && ev.Get("delta.type").String() == "text_delta" {
			msg.kind = kindTextDelta
			msg.text = ev.Get("delta.text").String()
		}
	case "result":
		msg.kind = kindResult
	}
	return msg, true
}
