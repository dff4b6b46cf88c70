package protocol

import "encoding/json"

// Outbound is a message sent by the server.
type Outbound interface {
	MessageType() Type
}

// ContentFormat tells a client how DOC_SYNC content was resolved.
type ContentFormat string

const (
	FormatDelta ContentFormat = "delta"
	FormatText  ContentFormat = "text"
	FormatEmpty ContentFormat = "empty"
)

type AssignID struct {
	Type     Type   `json:"type"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

type DocSync struct {
	Type    Type            `json:"type"`
	DocID   string          `json:"docId"`
	Content json.RawMessage `json:"content"`
	Format  ContentFormat   `json:"format"`
}

type DocUpdate struct {
	Type     Type            `json:"type"`
	DocID    string          `json:"docId"`
	Delta    json.RawMessage `json:"delta"`
	Username string          `json:"username"`
	UserID   string          `json:"userId,omitempty"`
}

type CursorBroadcast struct {
	Type     Type   `json:"type"`
	DocID    string `json:"docId,omitempty"`
	Username string `json:"username"`
	Color    string `json:"color"`
	UserID   string `json:"userId,omitempty"`
	Index    int    `json:"index"`
	Length   int    `json:"length"`
}

type HighlightBroadcast struct {
	Type     Type   `json:"type"`
	DocID    string `json:"docId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Index    int    `json:"index"`
	Length   int    `json:"length"`
}

type HighlightRemoved struct {
	Type   Type   `json:"type"`
	DocID  string `json:"docId"`
	UserID string `json:"userId"`
}

type Highlight struct {
	UserID string `json:"userId"`
	Index  int    `json:"index"`
	Length int    `json:"length"`
	Color  string `json:"color"`
}

type HighlightsSync struct {
	Type       Type        `json:"type"`
	DocID      string      `json:"docId"`
	Highlights []Highlight `json:"highlights"`
}

type User struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	UserID   string `json:"userId,omitempty"`
}

type UserList struct {
	Type  Type   `json:"type"`
	DocID string `json:"docId"`
	Users []User `json:"users"`
	Count int    `json:"count"`
}

type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// Relay forwards a client frame verbatim.
type Relay struct {
	Kind Type
	Data json.RawMessage
}

func (m AssignID) MessageType() Type           { return TypeAssignID }
func (m DocSync) MessageType() Type            { return TypeDocSync }
func (m DocUpdate) MessageType() Type          { return TypeDocUpdate }
func (m CursorBroadcast) MessageType() Type    { return TypeCursorMove }
func (m HighlightBroadcast) MessageType() Type { return TypeHighlightText }
func (m HighlightRemoved) MessageType() Type   { return TypeRemoveHighlight }
func (m HighlightsSync) MessageType() Type     { return TypeHighlightsSync }
func (m UserList) MessageType() Type           { return TypeUserList }
func (m Error) MessageType() Type              { return TypeError }
func (m Relay) MessageType() Type              { return m.Kind }

func NewAssignID(username, color string) AssignID {
	return AssignID{Type: TypeAssignID, Username: username, Color: color}
}

func NewDocSync(docID string, content json.RawMessage, format ContentFormat) DocSync {
	return DocSync{Type: TypeDocSync, DocID: docID, Content: content, Format: format}
}

func NewDocUpdate(docID string, delta json.RawMessage, username, userID string) DocUpdate {
	return DocUpdate{Type: TypeDocUpdate, DocID: docID, Delta: delta, Username: username, UserID: userID}
}

func NewCursorBroadcast(docID, username, color, userID string, index, length int) CursorBroadcast {
	return CursorBroadcast{
		Type:     TypeCursorMove,
		DocID:    docID,
		Username: username,
		Color:    color,
		UserID:   userID,
		Index:    index,
		Length:   length,
	}
}

func NewHighlightBroadcast(docID, userID, username, color string, index, length int) HighlightBroadcast {
	return HighlightBroadcast{
		Type:     TypeHighlightText,
		DocID:    docID,
		UserID:   userID,
		Username: username,
		Color:    color,
		Index:    index,
		Length:   length,
	}
}

func NewHighlightRemoved(docID, userID string) HighlightRemoved {
	return HighlightRemoved{Type: TypeRemoveHighlight, DocID: docID, UserID: userID}
}

func NewHighlightsSync(docID string, highlights []Highlight) HighlightsSync {
	if highlights == nil {
		highlights = []Highlight{}
	}
	return HighlightsSync{Type: TypeHighlightsSync, DocID: docID, Highlights: highlights}
}

func NewUserList(docID string, users []User) UserList {
	if users == nil {
		users = []User{}
	}
	return UserList{Type: TypeUserList, DocID: docID, Users: users, Count: len(users)}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Encode serialises an outbound message for a text frame. A Relay is
// returned byte for byte.
func Encode(msg Outbound) ([]byte, error) {
	if r, ok := msg.(Relay); ok {
		return r.Data, nil
	}
	return json.Marshal(msg)
}
