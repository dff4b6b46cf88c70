package room

import (
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/protocol"
)

// Member is a connection joined to a room, with the presence data shown to
// the other members.
type Member struct {
	Conn        Conn
	DisplayName string
	Color       string
	UserID      string
}

// Highlight is one user's active selection in a document.
type Highlight struct {
	UserID string
	Index  int
	Length int
	Color  string
}

// Room is the set of connections joined to one document together with the
// highlights of those connections' users. All fields are guarded by mu.
type Room struct {
	id         string
	mu         sync.Mutex
	members    map[string]Member
	order      []string
	highlights map[string]Highlight
	discarded  bool
}

func newRoom(id string) *Room {
	return &Room{
		id:         id,
		members:    make(map[string]Member),
		highlights: make(map[string]Highlight),
	}
}

// Directory owns every room. Each room is its own lock domain; the directory
// lock only guards the id -> room map and is never held while waiting for a
// room lock.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// lock returns the room for docID with its lock held, or nil if it does not
// exist and create is false.
func (d *Directory) lock(docID string, create bool) *Room {
	for {
		d.mu.Lock()
		r, ok := d.rooms[docID]
		if !ok {
			if !create {
				d.mu.Unlock()
				return nil
			}
			r = newRoom(docID)
			d.rooms[docID] = r
		}
		d.mu.Unlock()

		r.mu.Lock()
		if !r.discarded {
			return r
		}
		// lost a race with the last member leaving; look again
		r.mu.Unlock()
	}
}

// release unlocks r, dropping it from the directory once it is empty.
func (d *Directory) release(r *Room) {
	if len(r.members) == 0 && !r.discarded {
		d.mu.Lock()
		if d.rooms[r.id] == r {
			delete(d.rooms, r.id)
		}
		d.mu.Unlock()
		r.discarded = true
	}
	r.mu.Unlock()
}

// Join adds m to the room for docID. The joiner first receives sync, then the
// room's highlight snapshot, and then the presence list is broadcast to every
// member. When m is already a member only the joiner is refreshed.
// Connections whose Send failed are returned for the caller to close.
func (d *Directory) Join(docID string, m Member, sync []byte) []Conn {
	r := d.lock(docID, true)
	defer d.release(r)

	connID := m.Conn.ID()
	_, already := r.members[connID]
	if !already {
		r.members[connID] = m
		r.order = append(r.order, connID)
	}

	var failed []Conn
	if err := m.Conn.Send(sync); err != nil {
		failed = append(failed, m.Conn)
	}
	if data := encode(protocol.NewHighlightsSync(docID, r.highlightList())); data != nil {
		if err := m.Conn.Send(data); err != nil {
			failed = append(failed, m.Conn)
		}
	}

	presence := encode(protocol.NewUserList(docID, r.userList()))
	if presence == nil {
		return failed
	}
	if already {
		if err := m.Conn.Send(presence); err != nil {
			failed = append(failed, m.Conn)
		}
		return failed
	}
	return append(failed, r.broadcast("", presence)...)
}

// Leave removes connID from the room for docID. Any highlight of the leaving
// user is dropped and announced, then the remaining members receive the
// updated presence list. It reports whether connID was a member.
func (d *Directory) Leave(docID, connID string) (bool, []Conn) {
	r := d.lock(docID, false)
	if r == nil {
		return false, nil
	}
	defer d.release(r)

	m, ok := r.members[connID]
	if !ok {
		return false, nil
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if len(r.members) == 0 {
		return true, nil
	}

	var failed []Conn
	if m.UserID != "" {
		if _, had := r.highlights[m.UserID]; had {
			delete(r.highlights, m.UserID)
			if data := encode(protocol.NewHighlightRemoved(docID, m.UserID)); data != nil {
				failed = append(failed, r.broadcast("", data)...)
			}
		}
	}
	if data := encode(protocol.NewUserList(docID, r.userList())); data != nil {
		failed = append(failed, r.broadcast("", data)...)
	}
	return true, failed
}

// Broadcast sends data to every member of the room for docID except exclude.
func (d *Directory) Broadcast(docID, exclude string, data []byte) []Conn {
	r := d.lock(docID, false)
	if r == nil {
		return nil
	}
	defer d.release(r)
	return r.broadcast(exclude, data)
}

// SetHighlight stores h, replacing the user's previous highlight, and sends
// data to every other member. It reports false if the room does not exist
// or exclude is not one of its members; a highlight must not outlive its
// owner's membership.
func (d *Directory) SetHighlight(docID string, h Highlight, exclude string, data []byte) (bool, []Conn) {
	r := d.lock(docID, false)
	if r == nil {
		return false, nil
	}
	defer d.release(r)

	if _, ok := r.members[exclude]; !ok {
		return false, nil
	}
	r.highlights[h.UserID] = h
	return true, r.broadcast(exclude, data)
}

// RemoveHighlight drops userID's highlight and announces the removal to
// every member except exclude. It reports false if there was none.
func (d *Directory) RemoveHighlight(docID, userID, exclude string) (bool, []Conn) {
	r := d.lock(docID, false)
	if r == nil {
		return false, nil
	}
	defer d.release(r)

	if _, ok := r.highlights[userID]; !ok {
		return false, nil
	}
	delete(r.highlights, userID)
	data := encode(protocol.NewHighlightRemoved(docID, userID))
	if data == nil {
		return true, nil
	}
	return true, r.broadcast(exclude, data)
}

// Members returns the room's members in join order.
func (d *Directory) Members(docID string) []Member {
	r := d.lock(docID, false)
	if r == nil {
		return nil
	}
	defer d.release(r)

	members := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		members = append(members, r.members[id])
	}
	return members
}

// Contains reports whether connID is joined to docID.
func (d *Directory) Contains(docID, connID string) bool {
	r := d.lock(docID, false)
	if r == nil {
		return false
	}
	defer d.release(r)
	_, ok := r.members[connID]
	return ok
}

// Highlights returns the room's highlights ordered by user id.
func (d *Directory) Highlights(docID string) []Highlight {
	r := d.lock(docID, false)
	if r == nil {
		return nil
	}
	defer d.release(r)

	out := make([]Highlight, 0, len(r.highlights))
	for _, h := range r.highlights {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of non-empty rooms.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func (r *Room) broadcast(exclude string, data []byte) []Conn {
	var failed []Conn
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		m := r.members[id]
		if err := m.Conn.Send(data); err != nil {
			glog.Warningf("[room]%s send to %s failed: %v", r.id, id, err)
			failed = append(failed, m.Conn)
		}
	}
	return failed
}

func (r *Room) userList() []protocol.User {
	users := make([]protocol.User, 0, len(r.order))
	for _, id := range r.order {
		m := r.members[id]
		users = append(users, protocol.User{Username: m.DisplayName, Color: m.Color, UserID: m.UserID})
	}
	return users
}

func (r *Room) highlightList() []protocol.Highlight {
	list := make([]protocol.Highlight, 0, len(r.highlights))
	for _, h := range r.highlights {
		list = append(list, protocol.Highlight{UserID: h.UserID, Index: h.Index, Length: h.Length, Color: h.Color})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list
}

func encode(msg protocol.Outbound) []byte {
	data, err := protocol.Encode(msg)
	if err != nil {
		glog.Errorf("[room]encode %s: %v", msg.MessageType(), err)
		return nil
	}
	return data
}
