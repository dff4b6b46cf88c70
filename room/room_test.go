package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	broken bool
}

func newConn(id string) *recordingConn { return &recordingConn{id: id} }

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("send buffer full")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &env)
		out = append(out, env.Type)
	}
	return out
}

func (c *recordingConn) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[string]any
	if len(c.frames) > 0 {
		_ = json.Unmarshal(c.frames[len(c.frames)-1], &m)
	}
	return m
}

func member(c *recordingConn, name, userID string) Member {
	return Member{Conn: c, DisplayName: name, Color: "#1e90ff", UserID: userID}
}

var syncFrame = []byte(`{"type":"DOC_SYNC","docId":"doc1","content":{"ops":[{"insert":"\n"}]},"format":"empty"}`)

func TestDirectory_JoinSendsSyncHighlightsThenPresence(t *testing.T) {
	d := NewDirectory()
	a, b := newConn("a"), newConn("b")

	assert.Empty(t, d.Join("doc1", member(a, "alice", "u1"), syncFrame))
	assert.Equal(t, []string{"DOC_SYNC", "HIGHLIGHTS_SYNC", "USER_LIST"}, a.types())

	assert.Empty(t, d.Join("doc1", member(b, "bob", ""), syncFrame))
	assert.Equal(t, []string{"DOC_SYNC", "HIGHLIGHTS_SYNC", "USER_LIST"}, b.types())
	assert.Equal(t, []string{"DOC_SYNC", "HIGHLIGHTS_SYNC", "USER_LIST", "USER_LIST"}, a.types())

	list := a.last()
	assert.EqualValues(t, 2, list["count"])
	users := list["users"].([]any)
	assert.Equal(t, "alice", users[0].(map[string]any)["username"])
	assert.Equal(t, "bob", users[1].(map[string]any)["username"])
}

func TestDirectory_RejoinRefreshesOnlyJoiner(t *testing.T) {
	d := NewDirectory()
	a, b := newConn("a"), newConn("b")
	d.Join("doc1", member(a, "alice", "u1"), syncFrame)
	d.Join("doc1", member(b, "bob", "u2"), syncFrame)
	before := len(a.types())

	d.Join("doc1", member(b, "bob", "u2"), syncFrame)

	assert.Len(t, a.types(), before)
	assert.Len(t, d.Members("doc1"), 2)
}

func TestDirectory_LeaveCleansHighlightAndAnnounces(t *testing.T) {
	d := NewDirectory()
	a, b := newConn("a"), newConn("b")
	d.Join("doc1", member(a, "alice", "u1"), syncFrame)
	d.Join("doc1", member(b, "bob", "u2"), syncFrame)

	ok, _ := d.SetHighlight("doc1", Highlight{UserID: "u1", Index: 5, Length: 3, Color: "#1e90ff"}, "a", []byte(`{"type":"HIGHLIGHT_TEXT"}`))
	require.True(t, ok)
	mark := len(b.types())

	left, failed := d.Leave("doc1", "a")
	assert.True(t, left)
	assert.Empty(t, failed)
	assert.Equal(t, []string{"REMOVE_HIGHLIGHT", "USER_LIST"}, b.types()[mark:])
	assert.Empty(t, d.Highlights("doc1"))
	assert.False(t, d.Contains("doc1", "a"))

	left, _ = d.Leave("doc1", "a")
	assert.False(t, left, "second leave is a no-op")
}

func TestDirectory_EmptyRoomIsDiscarded(t *testing.T) {
	d := NewDirectory()
	a := newConn("a")
	d.Join("doc1", member(a, "alice", ""), syncFrame)
	assert.Equal(t, 1, d.Len())

	d.Leave("doc1", "a")
	assert.Equal(t, 0, d.Len())
	assert.Nil(t, d.Members("doc1"))
}

func TestDirectory_HighlightReplacesPrevious(t *testing.T) {
	d := NewDirectory()
	a := newConn("a")
	d.Join("doc1", member(a, "alice", "u1"), syncFrame)

	d.SetHighlight("doc1", Highlight{UserID: "u1", Index: 1, Length: 1}, "a", []byte(`{}`))
	d.SetHighlight("doc1", Highlight{UserID: "u1", Index: 7, Length: 2}, "a", []byte(`{}`))

	assert.Equal(t, []Highlight{{UserID: "u1", Index: 7, Length: 2}}, d.Highlights("doc1"))

	removed, _ := d.RemoveHighlight("doc1", "u1", "a")
	assert.True(t, removed)
	removed, _ = d.RemoveHighlight("doc1", "u1", "a")
	assert.False(t, removed)
}

func TestDirectory_HighlightRequiresMembership(t *testing.T) {
	d := NewDirectory()
	a := newConn("a")
	d.Join("doc1", member(a, "alice", "u1"), syncFrame)
	mark := len(a.types())

	ok, failed := d.SetHighlight("doc1", Highlight{UserID: "u2", Index: 1, Length: 2}, "b", []byte(`{"type":"HIGHLIGHT_TEXT"}`))

	assert.False(t, ok)
	assert.Empty(t, failed)
	assert.Empty(t, d.Highlights("doc1"))
	assert.Len(t, a.types(), mark)
}

func TestDirectory_BroadcastExcludesSenderAndReportsFailures(t *testing.T) {
	d := NewDirectory()
	a, b, c := newConn("a"), newConn("b"), newConn("c")
	d.Join("doc1", member(a, "alice", ""), syncFrame)
	d.Join("doc1", member(b, "bob", ""), syncFrame)
	d.Join("doc1", member(c, "carol", ""), syncFrame)
	c.broken = true

	failed := d.Broadcast("doc1", "a", []byte(`{"type":"DOC_UPDATE"}`))

	assert.Equal(t, []Conn{c}, failed)
	assert.Equal(t, "DOC_UPDATE", b.types()[len(b.types())-1])
	assert.NotEqual(t, "DOC_UPDATE", a.types()[len(a.types())-1])
}

func TestDirectory_ConcurrentJoinLeave(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newConn(fmt.Sprintf("c%d", i))
			doc := fmt.Sprintf("doc%d", i%3)
			for j := 0; j < 20; j++ {
				d.Join(doc, member(c, c.id, ""), syncFrame)
				d.Broadcast(doc, c.id, []byte(`{}`))
				d.Leave(doc, c.id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.Len())
}

func TestRegistry_ActiveDocumentsDeduplicates(t *testing.T) {
	r := NewRegistry()
	r.Add(Session{ConnID: "a", DocumentID: "doc1"})
	r.Add(Session{ConnID: "b", DocumentID: "doc1", UserID: "u2"})
	r.Add(Session{ConnID: "c", DocumentID: "doc2", UserID: "u3"})
	r.Add(Session{ConnID: "d"})

	assert.Equal(t, []ActiveDocument{
		{DocumentID: "doc1", AuthorID: "u2"},
		{DocumentID: "doc2", AuthorID: "u3"},
	}, r.ActiveDocuments())

	_, ok := r.Remove("a")
	assert.True(t, ok)
	_, ok = r.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 3, r.Count())
}
