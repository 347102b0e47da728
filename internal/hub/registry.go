package hub

import (
	"sort"

	"github.com/pscheid92/flowsync/internal/domain"
)

type entry struct {
	conn  Conn
	color string
	seq   uint64
}

// registry is the plain client table. It is owned by the hub goroutine and
// is not safe for concurrent use.
type registry struct {
	palette   domain.Palette
	entries   map[domain.ClientID]*entry
	nextColor uint64
	nextSeq   uint64
}

func newRegistry(palette domain.Palette) *registry {
	return &registry{
		palette: palette,
		entries: make(map[domain.ClientID]*entry),
	}
}

// add inserts conn under id. An existing entry for id is replaced: the new
// connection keeps the prior color and join position, and the prior handle is
// returned so the caller can close it.
func (r *registry) add(id domain.ClientID, conn Conn) (color string, prior Conn) {
	if e, ok := r.entries[id]; ok {
		if e.conn != conn {
			prior = e.conn
		}
		e.conn = conn
		return e.color, prior
	}

	color = r.palette.At(r.nextColor)
	r.nextColor++
	r.entries[id] = &entry{conn: conn, color: color, seq: r.nextSeq}
	r.nextSeq++
	return color, nil
}

// remove deletes the entry for id if it belongs to conn. A nil conn matches
// any handle. superseded reports that id is held by a different connection.
func (r *registry) remove(id domain.ClientID, conn Conn) (removed Conn, superseded bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	if conn != nil && e.conn != conn {
		return nil, true
	}
	delete(r.entries, id)
	return e.conn, false
}

func (r *registry) len() int { return len(r.entries) }

// snapshot lists ids in join order together with their colors.
func (r *registry) snapshot() Snapshot {
	snap := Snapshot{
		IDs:    make([]domain.ClientID, 0, len(r.entries)),
		Colors: make(map[domain.ClientID]string, len(r.entries)),
	}
	for id, e := range r.entries {
		snap.IDs = append(snap.IDs, id)
		snap.Colors[id] = e.color
	}
	sort.Slice(snap.IDs, func(i, j int) bool {
		return r.entries[snap.IDs[i]].seq < r.entries[snap.IDs[j]].seq
	})
	return snap
}

func (r *registry) clear() map[domain.ClientID]*entry {
	old := r.entries
	r.entries = make(map[domain.ClientID]*entry)
	return old
}
