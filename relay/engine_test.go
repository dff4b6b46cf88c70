package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanush010/Syncscribe/broker"
	"github.com/Dhanush010/Syncscribe/presence"
	"github.com/Dhanush010/Syncscribe/room"
	"github.com/Dhanush010/Syncscribe/store"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	broken bool
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("send buffer full")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) ofType(t string) []map[string]any {
	var out []map[string]any
	for _, m := range c.messages() {
		if m["type"] == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) since(n int) []map[string]any {
	return c.messages()[n:]
}

type failingStore struct {
	*store.MemoryStore
	fail map[string]bool
}

func (s *failingStore) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	if s.fail[id] {
		return nil, errors.New("connection refused")
	}
	return s.MemoryStore.GetDocument(ctx, id)
}

type recordingSink struct {
	mu       sync.Mutex
	messages []broker.Message
}

func (r *recordingSink) Emit(m broker.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	engine   *Engine
	sessions *room.Registry
	rooms    *room.Directory
	store    *failingStore
	activity *recordingSink
}

func newFixture() *fixture {
	mem := store.NewMemoryStore()
	mem.PutDocument(store.Document{ID: "doc1", Content: `{"ops":[{"insert":"hello\n"}]}`})
	mem.PutDocument(store.Document{ID: "doc2", Content: "plain words"})
	mem.PutDocument(store.Document{ID: "blank"})

	f := &fixture{
		sessions: room.NewRegistry(),
		rooms:    room.NewDirectory(),
		store:    &failingStore{MemoryStore: mem, fail: map[string]bool{}},
		activity: &recordingSink{},
	}
	f.engine = NewEngine(f.sessions, f.rooms, f.store, presence.NewSeededAllocator(7, 11), WithActivity(f.activity))
	return f
}

func (f *fixture) connect(id, userID, name string) *fakeConn {
	c := &fakeConn{id: id}
	var ident *Identity
	if userID != "" {
		ident = &Identity{UserID: userID, DisplayName: name}
	}
	f.engine.Connect(c, ident)
	return c
}

func (f *fixture) send(c *fakeConn, frame string) {
	f.engine.Handle(context.Background(), c, []byte(frame))
}

func (f *fixture) join(c *fakeConn, docID string) {
	f.send(c, fmt.Sprintf(`{"type":"JOIN_DOC","docId":%q}`, docID))
}

func TestConnect_AssignsIdentityOrGuestName(t *testing.T) {
	f := newFixture()

	alice := f.connect("a", "u1", "alice")
	guest := f.connect("g", "", "")

	assign := alice.ofType("ASSIGN_ID")
	require.Len(t, assign, 1)
	assert.Equal(t, "alice", assign[0]["username"])
	assert.Contains(t, presence.Palette, assign[0]["color"])

	assign = guest.ofType("ASSIGN_ID")
	require.Len(t, assign, 1)
	assert.Regexp(t, `^User\d+$`, assign[0]["username"])

	s, ok := f.sessions.Get("g")
	require.True(t, ok)
	assert.True(t, s.Anonymous())
	assert.Empty(t, s.DocumentID)
}

func TestJoin_SendsStructuredSync(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "u1", "alice")

	f.join(a, "doc1")

	types := []string{}
	for _, m := range a.messages() {
		types = append(types, m["type"].(string))
	}
	assert.Equal(t, []string{"ASSIGN_ID", "DOC_SYNC", "HIGHLIGHTS_SYNC", "USER_LIST"}, types)

	sync := a.ofType("DOC_SYNC")[0]
	assert.Equal(t, "doc1", sync["docId"])
	assert.Equal(t, "delta", sync["format"])
	content, err := json.Marshal(sync["content"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"insert":"hello\n"}]}`, string(content))

	s, _ := f.sessions.Get("a")
	assert.Equal(t, "doc1", s.DocumentID)
	assert.True(t, f.rooms.Contains("doc1", "a"))
	assert.Equal(t, []string{broker.KindJoin}, f.activity.kinds())
}

func TestJoin_TextAndEmptyContent(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")

	f.join(a, "doc2")
	sync := a.ofType("DOC_SYNC")[0]
	assert.Equal(t, "text", sync["format"])
	assert.Equal(t, "plain words", sync["content"])

	f.join(a, "blank")
	sync = a.ofType("DOC_SYNC")[1]
	assert.Equal(t, "empty", sync["format"])
	require.Contains(t, sync, "content")
	content, err := json.Marshal(sync["content"])
	require.NoError(t, err)
	assert.JSONEq(t, string(EmptyDelta), string(content))
}

func TestJoin_AlwaysReadsLatestContent(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")

	f.join(a, "doc1")
	f.store.PutDocument(store.Document{ID: "doc1", Content: `{"ops":[{"insert":"changed\n"}]}`})
	f.join(b, "doc1")

	content, _ := json.Marshal(b.ofType("DOC_SYNC")[0]["content"])
	assert.JSONEq(t, `{"ops":[{"insert":"changed\n"}]}`, string(content))
}

func TestJoin_NotFoundReportsErrorToSenderOnly(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	f.join(b, "doc1")
	mark := b.count()

	f.join(a, "missing")

	errs := a.ofType("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "Document not found", errs[0]["message"])
	assert.Empty(t, a.ofType("DOC_SYNC"))
	assert.Equal(t, mark, b.count())

	s, _ := f.sessions.Get("a")
	assert.Empty(t, s.DocumentID)
	assert.False(t, f.rooms.Contains("missing", "a"))
}

func TestJoin_StoreFailureAbortsJoin(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	f.join(a, "doc1")
	f.store.fail["doc2"] = true

	f.join(a, "doc2")

	errs := a.ofType("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "Failed to load document", errs[0]["message"])
	s, _ := f.sessions.Get("a")
	assert.Equal(t, "doc1", s.DocumentID, "failed join keeps the previous room")
	assert.True(t, f.rooms.Contains("doc1", "a"))
	assert.False(t, f.rooms.Contains("doc2", "a"))
}

func TestJoin_SwitchingDocumentsLeavesPreviousRoom(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "u1", "alice")
	b := f.connect("b", "u2", "bob")
	f.join(a, "doc1")
	f.join(b, "doc1")
	mark := b.count()

	f.join(a, "doc2")

	after := b.since(mark)
	require.Len(t, after, 1)
	assert.Equal(t, "USER_LIST", after[0]["type"])
	assert.EqualValues(t, 1, after[0]["count"])

	assert.False(t, f.rooms.Contains("doc1", "a"))
	assert.True(t, f.rooms.Contains("doc2", "a"))
	s, _ := f.sessions.Get("a")
	assert.Equal(t, "doc2", s.DocumentID)
}

func TestJoin_SameDocumentIsResync(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")
	mark := a.count()

	f.join(b, "doc1")

	assert.Equal(t, mark, a.count(), "other members see no presence change")
	assert.Len(t, b.ofType("DOC_SYNC"), 2)
	assert.Len(t, f.rooms.Members("doc1"), 2)
}

func TestMembership_ConsistentAcrossJoinLeave(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")

	steps := []string{
		`{"type":"JOIN_DOC","docId":"doc1"}`,
		`{"type":"JOIN_DOC","docId":"doc2"}`,
		`{"type":"LEAVE_DOC","docId":"doc1"}`,
		`{"type":"LEAVE_DOC","docId":"doc2"}`,
		`{"type":"LEAVE_DOC","docId":"doc2"}`,
		`{"type":"JOIN_DOC","docId":"missing"}`,
		`{"type":"JOIN_DOC","docId":"doc1"}`,
		`{"type":"JOIN_DOC","docId":"doc1"}`,
	}
	for _, step := range steps {
		f.send(a, step)

		s, _ := f.sessions.Get("a")
		rooms := 0
		for _, doc := range []string{"doc1", "doc2", "blank", "missing"} {
			if f.rooms.Contains(doc, "a") {
				rooms++
				assert.Equal(t, doc, s.DocumentID, step)
			}
		}
		if s.DocumentID == "" {
			assert.Equal(t, 0, rooms, step)
		} else {
			assert.Equal(t, 1, rooms, step)
		}
	}
}

func TestUpdate_RelaysToOthersWithoutEcho(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "u1", "alice")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")

	f.send(a, `{"type":"UPDATE_DOC","docId":"doc1","delta":{"ops":[{"retain":5},{"insert":"!"}]}}`)

	assert.Empty(t, a.ofType("DOC_UPDATE"))
	updates := b.ofType("DOC_UPDATE")
	require.Len(t, updates, 1)
	assert.Equal(t, "alice", updates[0]["username"])
	assert.Equal(t, "u1", updates[0]["userId"])
	delta, _ := json.Marshal(updates[0]["delta"])
	assert.JSONEq(t, `{"ops":[{"retain":5},{"insert":"!"}]}`, string(delta))
	assert.Contains(t, f.activity.kinds(), broker.KindEdit)
}

func TestUpdate_OrderMatchesArrivalAcrossSenders(t *testing.T) {
	f := newFixture()
	senders := []*fakeConn{f.connect("s1", "", ""), f.connect("s2", "", ""), f.connect("s3", "", "")}
	observers := []*fakeConn{f.connect("o1", "", ""), f.connect("o2", "", "")}
	for _, c := range append(append([]*fakeConn{}, senders...), observers...) {
		f.join(c, "doc1")
	}

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s *fakeConn) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				f.send(s, fmt.Sprintf(`{"type":"UPDATE_DOC","docId":"doc1","delta":{"ops":[{"insert":"%s-%d"}]}}`, s.id, i))
			}
		}(s)
	}
	wg.Wait()

	sequence := func(c *fakeConn) []string {
		var out []string
		for _, m := range c.ofType("DOC_UPDATE") {
			d, _ := json.Marshal(m["delta"])
			out = append(out, string(d))
		}
		return out
	}

	first := sequence(observers[0])
	require.Len(t, first, 300)
	assert.Equal(t, first, sequence(observers[1]), "observers must see one global order")

	// per-sender order is preserved too
	last := map[string]int{}
	for _, d := range first {
		var delta struct {
			Ops []struct {
				Insert string `json:"insert"`
			} `json:"ops"`
		}
		require.NoError(t, json.Unmarshal([]byte(d), &delta))
		require.Len(t, delta.Ops, 1)
		id, seq, ok := strings.Cut(delta.Ops[0].Insert, "-")
		require.True(t, ok)
		n, err := strconv.Atoi(seq)
		require.NoError(t, err)
		if prev, seen := last[id]; seen {
			assert.Greater(t, n, prev)
		}
		last[id] = n
	}
	for _, s := range senders {
		assert.Equal(t, 99, last[s.id])
	}
}

func TestCursor_BroadcastsWithSenderPresence(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "u1", "alice")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")

	f.send(a, `{"type":"CURSOR_MOVE","index":3,"length":2}`)

	assert.Empty(t, a.ofType("CURSOR_MOVE"))
	cursors := b.ofType("CURSOR_MOVE")
	require.Len(t, cursors, 1)
	assert.Equal(t, "alice", cursors[0]["username"])
	assert.Equal(t, "u1", cursors[0]["userId"])
	assert.EqualValues(t, 3, cursors[0]["index"])
	assert.EqualValues(t, 2, cursors[0]["length"])
	assert.NotEmpty(t, cursors[0]["color"])
}

func TestHighlight_Scenario(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "uA", "alice")
	b := f.connect("b", "uB", "bob")
	f.join(a, "doc1")
	f.join(b, "doc1")
	aSession, _ := f.sessions.Get("a")

	f.send(a, `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":5,"length":3}`)

	assert.Empty(t, a.ofType("HIGHLIGHT_TEXT"))
	hl := b.ofType("HIGHLIGHT_TEXT")
	require.Len(t, hl, 1)
	assert.Equal(t, "uA", hl[0]["userId"])
	assert.Equal(t, aSession.Color, hl[0]["color"])
	assert.EqualValues(t, 5, hl[0]["index"])
	assert.EqualValues(t, 3, hl[0]["length"])

	c := f.connect("c", "uC", "carol")
	f.join(c, "doc1")
	syncs := c.ofType("HIGHLIGHTS_SYNC")
	require.Len(t, syncs, 1)
	list := syncs[0]["highlights"].([]any)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "uA", entry["userId"])
	assert.EqualValues(t, 5, entry["index"])
	assert.EqualValues(t, 3, entry["length"])
	assert.Equal(t, aSession.Color, entry["color"])

	mark := b.count()
	f.engine.Disconnect(a)

	after := b.since(mark)
	require.Len(t, after, 2)
	assert.Equal(t, "REMOVE_HIGHLIGHT", after[0]["type"])
	assert.Equal(t, "uA", after[0]["userId"])
	assert.Equal(t, "USER_LIST", after[1]["type"])
	assert.EqualValues(t, 2, after[1]["count"])
	assert.Empty(t, f.rooms.Highlights("doc1"))
}

func TestHighlight_AnonymousIgnored(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")
	mark := b.count()

	f.send(a, `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":1,"length":1}`)
	f.send(a, `{"type":"REMOVE_HIGHLIGHT","docId":"doc1"}`)

	assert.Equal(t, mark, b.count())
	assert.Empty(t, f.rooms.Highlights("doc1"))
}

func TestHighlight_NonMemberDoesNotOutliveSession(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "uA", "alice")
	b := f.connect("b", "uB", "bob")
	f.join(a, "doc1")
	f.join(b, "doc2")
	mark := a.count()

	f.send(b, `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":1,"length":2}`)
	assert.Equal(t, mark, a.count(), "doc1 members hear nothing from an outsider")

	f.engine.Disconnect(b)

	c := f.connect("c", "uC", "carol")
	f.join(c, "doc1")
	syncs := c.ofType("HIGHLIGHTS_SYNC")
	require.Len(t, syncs, 1)
	for _, h := range syncs[0]["highlights"].([]any) {
		assert.NotEqual(t, "uB", h.(map[string]any)["userId"])
	}
	assert.Empty(t, f.rooms.Highlights("doc1"))
}

func TestRemoveHighlight(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "uA", "alice")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")

	f.send(a, `{"type":"REMOVE_HIGHLIGHT","docId":"doc1"}`)
	assert.Empty(t, b.ofType("REMOVE_HIGHLIGHT"), "nothing to remove")

	f.send(a, `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":1,"length":4}`)
	f.send(a, `{"type":"HIGHLIGHT_TEXT","docId":"doc1","index":2,"length":6}`)
	assert.Len(t, f.rooms.Highlights("doc1"), 1)

	f.send(a, `{"type":"REMOVE_HIGHLIGHT","docId":"doc1"}`)
	removed := b.ofType("REMOVE_HIGHLIGHT")
	require.Len(t, removed, 1)
	assert.Equal(t, "uA", removed[0]["userId"])
	assert.Empty(t, a.ofType("REMOVE_HIGHLIGHT"))
}

func TestLeave_NotMemberIsNoop(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	f.join(b, "doc1")
	mark := b.count()

	f.send(a, `{"type":"LEAVE_DOC","docId":"doc1"}`)

	assert.Equal(t, mark, b.count())
	assert.True(t, f.rooms.Contains("doc1", "b"))
}

func TestComments_RelayedVerbatim(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")

	frame := `{"type":"COMMENT_ADDED","docId":"doc1","comment":{"_id":"c1","text":"nice"}}`
	f.send(a, frame)

	assert.Empty(t, a.ofType("COMMENT_ADDED"))
	b.mu.Lock()
	last := string(b.frames[len(b.frames)-1])
	b.mu.Unlock()
	assert.Equal(t, frame, last)
}

func TestHandle_BadFramesAreDropped(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	mark := a.count()

	for _, frame := range []string{`not json`, `{"type":"NOPE"}`, `{"type":"JOIN_DOC"}`, `{}`, `null`} {
		f.send(a, frame)
	}
	assert.Equal(t, mark, a.count())

	f.join(a, "doc1")
	assert.Len(t, a.ofType("DOC_SYNC"), 1, "connection keeps working")
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "uA", "alice")
	b := f.connect("b", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")
	mark := b.count()

	f.engine.Disconnect(a)
	f.engine.Disconnect(a)

	lists := 0
	for _, m := range b.since(mark) {
		if m["type"] == "USER_LIST" {
			lists++
		}
	}
	assert.Equal(t, 1, lists)
	assert.Equal(t, 1, f.sessions.Count())

	never := f.connect("n", "", "")
	f.engine.Disconnect(never)
	f.engine.Disconnect(never)
	assert.Equal(t, 1, f.sessions.Count())
}

func TestBroadcast_FailedPeerIsClosed(t *testing.T) {
	f := newFixture()
	a := f.connect("a", "", "")
	b := f.connect("b", "", "")
	c := f.connect("c", "", "")
	f.join(a, "doc1")
	f.join(b, "doc1")
	f.join(c, "doc1")
	b.mu.Lock()
	b.broken = true
	b.mu.Unlock()

	f.send(a, `{"type":"UPDATE_DOC","docId":"doc1","delta":{"ops":[{"insert":"x"}]}}`)

	assert.Len(t, c.ofType("DOC_UPDATE"), 1, "remaining peers still receive the update")
	assert.Eventually(t, b.isClosed, time.Second, 5*time.Millisecond)
}
