package app

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/domain"
)

type SessionInfo struct {
	ID    SessionID     `json:"id"`
	Room  domain.RoomID `json:"room"`
	Phase string        `json:"phase"`
}

// Registry tracks the sessions running in this process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]SessionHandle
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]SessionHandle),
	}
}

func (r *Registry) Register(h SessionHandle) SessionID {
	sid := SessionID(uuid.NewString())
	r.mu.Lock()
	r.sessions[sid] = h
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(h.Room())).Msg("registered session")
	return sid
}

func (r *Registry) Get(sid SessionID) (SessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[sid]
	return h, ok
}

func (r *Registry) Unregister(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered session")
}

// ByRoom returns every session joined to room.
func (r *Registry) ByRoom(room domain.RoomID) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, 0, 1)
	for sid, h := range r.sessions {
		if h.Room() == room {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for sid, h := range r.sessions {
		out = append(out, SessionInfo{ID: sid, Room: h.Room(), Phase: h.Phase()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
