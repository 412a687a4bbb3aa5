package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zhubert/koine/internal/errs"
)

func TestResolveSessionID(t *testing.T) {
	assert.Equal(t, "worker", ResolveSessionID("worker", "client"))
	assert.Equal(t, "client", ResolveSessionID("", "client"))

	fresh := ResolveSessionID("", "")
	_, err := uuid.Parse(fresh)
	require.NoError(t, err)
	assert.NotEqual(t, fresh, ResolveSessionID("", ""))
}

func TestResolveUsage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Usage
	}{
		{"both", `{"input_tokens":10,"output_tokens":5}`, Usage{10, 5, 15}},
		{"reported total ignored", `{"input_tokens":10,"output_tokens":5,"total_tokens":99}`, Usage{10, 5, 15}},
		{"missing output", `{"input_tokens":7}`, Usage{7, 0, 7}},
		{"empty", `{}`, Usage{}},
		{"negative clamped", `{"input_tokens":-3,"output_tokens":2}`, Usage{0, 2, 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveUsage(gjson.Parse(tc.raw)))
		})
	}

	assert.Equal(t, Usage{}, ResolveUsage(gjson.Result{}), "absent usage")
}

func TestParseResult(t *testing.T) {
	out := []byte(`{"type":"result","subtype":"success","is_error":false,"result":"Hi there","session_id":"s-1","usage":{"input_tokens":3,"output_tokens":2}}` + "\n")

	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, Usage{3, 2, 5}, res.Usage)
	assert.NoError(t, res.Err())
	assert.False(t, res.Structured.Exists())
}

func TestParseResult_MessageArray(t *testing.T) {
	out := []byte(`[{"type":"system","session_id":"s-2"},{"type":"result","result":"done","session_id":"s-2","usage":{"input_tokens":1,"output_tokens":1}}]`)

	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, "s-2", res.SessionID)
}

func TestParseResult_Structured(t *testing.T) {
	out := []byte(`{"type":"result","result":"","structured_output":{"name":"Alice"},"session_id":"s-3"}`)

	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alice"}`, res.Structured.Raw)
}

func TestParseResult_IsError(t *testing.T) {
	res, err := ParseResult([]byte(`{"type":"result","subtype":"error_max_turns","is_error":true,"result":""}`))
	require.NoError(t, err)
	require.Error(t, res.Err())
	assert.Equal(t, errs.CodeExit, errs.CodeOf(res.Err()))
	assert.Contains(t, res.Err().Error(), "error_max_turns")
}

func TestParseResult_Failures(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"empty", "  \n"},
		{"not json", "Error: something broke"},
		{"no result field", `{"type":"system"}`},
		{"array without result", `[{"type":"system"}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseResult([]byte(tc.out))
			require.Error(t, err)
			assert.Equal(t, errs.CodeParse, errs.CodeOf(err))
		})
	}
}
