package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	testCases := []struct {
		name     string
		frame    string
		expected Inbound
		err      error
	}{
		{
			name:     "Join",
			frame:    `{"type":"JOIN_DOC","docId":"doc1"}`,
			expected: JoinDoc{DocID: "doc1"},
		},
		{
			name:  "Join - Missing docId",
			frame: `{"type":"JOIN_DOC"}`,
			err:   ErrMalformed,
		},
		{
			name:     "Leave",
			frame:    `{"type":"LEAVE_DOC","docId":"doc1"}`,
			expected: LeaveDoc{DocID: "doc1"},
		},
		{
			name:     "Update keeps delta bytes",
			frame:    `{"type":"UPDATE_DOC","docId":"doc1","delta":{"ops":[{"retain":3},{"insert":"x"}]}}`,
			expected: UpdateDoc{DocID: "doc1", Delta: json.RawMessage(`{"ops":[{"retain":3},{"insert":"x"}]}`)},
		},
		{
			name:  "Update - Null delta",
			frame: `{"type":"UPDATE_DOC","docId":"doc1","delta":null}`,
			err:   ErrMalformed,
		},
		{
			name:     "Cursor without docId",
			frame:    `{"type":"CURSOR_MOVE","index":4,"length":0}`,
			expected: CursorMove{Index: 4},
		},
		{
			name:  "Cursor - Negative index",
			frame: `{"type":"CURSOR_MOVE","index":-1,"length":0}`,
			err:   ErrMalformed,
		},
		{
			name:     "Highlight",
			frame:    `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":5,"length":3}`,
			expected: HighlightText{DocID: "doc1", Index: 5, Length: 3},
		},
		{
			name:  "Highlight - Fractional index",
			frame: `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":5.5,"length":3}`,
			err:   ErrMalformed,
		},
		{
			name:     "Remove highlight",
			frame:    `{"type":"REMOVE_HIGHLIGHT","docId":"doc1"}`,
			expected: RemoveHighlight{DocID: "doc1"},
		},
		{
			name:     "Comment deleted is kept verbatim",
			frame:    `{"type":"COMMENT_DELETED","docId":"doc1","commentId":"c9"}`,
			expected: CommentEvent{Kind: TypeCommentDeleted, DocID: "doc1", Raw: json.RawMessage(`{"type":"COMMENT_DELETED","docId":"doc1","commentId":"c9"}`)},
		},
		{
			name:  "Unknown type",
			frame: `{"type":"SHOUT","docId":"doc1"}`,
			err:   ErrUnknownType,
		},
		{
			name:  "Not JSON",
			frame: `hello`,
			err:   ErrMalformed,
		},
		{
			name:  "JSON array",
			frame: `[1,2,3]`,
			err:   ErrMalformed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.frame))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, msg)
		})
	}
}

func TestEncode_RelayIsVerbatim(t *testing.T) {
	frame := []byte(`{"type":"COMMENT_ADDED","docId":"doc1","comment":{"text":"hi"}}`)
	data, err := Encode(Relay{Kind: TypeCommentAdded, Data: frame})
	require.NoError(t, err)
	assert.Equal(t, frame, data)
}

func TestEncode_EmptyCollectionsAreLists(t *testing.T) {
	data, err := Encode(NewHighlightsSync("doc1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"HIGHLIGHTS_SYNC","docId":"doc1","highlights":[]}`, string(data))

	data, err = Encode(NewUserList("doc1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"USER_LIST","docId":"doc1","users":[],"count":0}`, string(data))
}
