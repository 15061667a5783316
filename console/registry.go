package console

import (
	"sort"
	"time"

	"github.com/donomii/qospanel/syncmap"
)

// SessionInfo is the public view of a running session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	Fsname   string    `json:"fsname,omitempty"`
	Started  time.Time `json:"started"`
	Messages int64     `json:"messages"`
	Bytes    int64     `json:"bytes"`
	Rate     float64   `json:"rate"`
}

// Registry tracks live sessions.
type Registry struct {
	sessions syncmap.SyncMap[string, *Session]
}

func (r *Registry) add(s *Session) {
	r.sessions.Store(s.id, s)
}

func (r *Registry) remove(id string) {
	r.sessions.Delete(id)
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (SessionInfo, bool) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// List returns every live session, oldest first.
func (r *Registry) List() []SessionInfo {
	sessions := r.sessions.Values()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}
