package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the value of the "type" tag carried by every wire message.
type Type string

const (
	TypeAssignID        Type = "ASSIGN_ID"
	TypeJoinDoc         Type = "JOIN_DOC"
	TypeLeaveDoc        Type = "LEAVE_DOC"
	TypeDocSync         Type = "DOC_SYNC"
	TypeUpdateDoc       Type = "UPDATE_DOC"
	TypeDocUpdate       Type = "DOC_UPDATE"
	TypeCursorMove      Type = "CURSOR_MOVE"
	TypeHighlightText   Type = "HIGHLIGHT_TEXT"
	TypeRemoveHighlight Type = "REMOVE_HIGHLIGHT"
	TypeHighlightsSync  Type = "HIGHLIGHTS_SYNC"
	TypeUserList        Type = "USER_LIST"
	TypeCommentAdded    Type = "COMMENT_ADDED"
	TypeCommentUpdated  Type = "COMMENT_UPDATED"
	TypeCommentDeleted  Type = "COMMENT_DELETED"
	TypeError           Type = "ERROR"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is a message sent by a client. The set of implementations is closed;
// Decode is the only constructor used by the transport.
type Inbound interface {
	inbound()
}

type JoinDoc struct {
	DocID string `json:"docId"`
}

type LeaveDoc struct {
	DocID string `json:"docId"`
}

// UpdateDoc carries an opaque delta that is relayed byte for byte.
type UpdateDoc struct {
	DocID string          `json:"docId"`
	Delta json.RawMessage `json:"delta"`
}

// CursorMove may omit DocID, in which case the sender's joined document is used.
type CursorMove struct {
	DocID  string `json:"docId"`
	Index  int    `json:"index"`
	Length int    `json:"length"`
}

type HighlightText struct {
	DocID  string `json:"docId"`
	Index  int    `json:"index"`
	Length int    `json:"length"`
}

type RemoveHighlight struct {
	DocID string `json:"docId"`
}

// CommentEvent is one of COMMENT_ADDED, COMMENT_UPDATED or COMMENT_DELETED.
// Raw holds the message exactly as received.
type CommentEvent struct {
	Kind  Type
	DocID string
	Raw   json.RawMessage
}

func (JoinDoc) inbound()         {}
func (LeaveDoc) inbound()        {}
func (UpdateDoc) inbound()       {}
func (CursorMove) inbound()      {}
func (HighlightText) inbound()   {}
func (RemoveHighlight) inbound() {}
func (CommentEvent) inbound()    {}

type envelope struct {
	Type  Type   `json:"type"`
	DocID string `json:"docId"`
}

// Decode parses one client frame. It returns ErrMalformed for frames that are
// not JSON objects or lack required fields, and ErrUnknownType for frames with
// an unrecognised tag.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeJoinDoc:
		if env.DocID == "" {
			return nil, fmt.Errorf("%w: JOIN_DOC without docId", ErrMalformed)
		}
		return JoinDoc{DocID: env.DocID}, nil

	case TypeLeaveDoc:
		if env.DocID == "" {
			return nil, fmt.Errorf("%w: LEAVE_DOC without docId", ErrMalformed)
		}
		return LeaveDoc{DocID: env.DocID}, nil

	case TypeUpdateDoc:
		var m UpdateDoc
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.DocID == "" || isAbsent(m.Delta) {
			return nil, fmt.Errorf("%w: UPDATE_DOC requires docId and delta", ErrMalformed)
		}
		return m, nil

	case TypeCursorMove:
		var m CursorMove
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Index < 0 || m.Length < 0 {
			return nil, fmt.Errorf("%w: negative cursor range", ErrMalformed)
		}
		return m, nil

	case TypeHighlightText:
		var m HighlightText
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.DocID == "" || m.Index < 0 || m.Length < 0 {
			return nil, fmt.Errorf("%w: HIGHLIGHT_TEXT requires docId and a non-negative range", ErrMalformed)
		}
		return m, nil

	case TypeRemoveHighlight:
		if env.DocID == "" {
			return nil, fmt.Errorf("%w: REMOVE_HIGHLIGHT without docId", ErrMalformed)
		}
		return RemoveHighlight{DocID: env.DocID}, nil

	case TypeCommentAdded, TypeCommentUpdated, TypeCommentDeleted:
		if env.DocID == "" {
			return nil, fmt.Errorf("%w: %s without docId", ErrMalformed, env.Type)
		}
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return CommentEvent{Kind: env.Type, DocID: env.DocID, Raw: raw}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
