// Package peers keeps the remote participants of a session.
package peers

import (
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var ErrUnknownPeer = errors.New("unknown peer")

// FlowCloser closes the inbound flows owned by a peer.
type FlowCloser interface {
	CloseByPeer(peer domain.PeerID) []domain.FlowID
}

type Callbacks struct {
	Added      func(domain.Peer)
	Updated    func(domain.Peer)
	Removed    func(domain.Peer)
	PinCleared func(domain.PeerID)
}

// Directory is owned by the session loop.
type Directory struct {
	flows    FlowCloser
	cb       Callbacks
	peers    map[domain.PeerID]*domain.Peer
	departed map[domain.PeerID]struct{}
	pinned   domain.PeerID
}

func NewDirectory(flows FlowCloser, cb Callbacks) *Directory {
	return &Directory{
		flows:    flows,
		cb:       cb,
		peers:    make(map[domain.PeerID]*domain.Peer),
		departed: make(map[domain.PeerID]struct{}),
	}
}

// Upsert creates the peer or updates its display name. An empty name keeps
// the current one. A peer that left and joins again is live again.
func (d *Directory) Upsert(id domain.PeerID, name string) domain.Peer {
	delete(d.departed, id)
	if p, ok := d.peers[id]; ok {
		if name != "" && p.DisplayName != name {
			p.DisplayName = name
			log.Debug().Str("module", "peers").Str("peer_id", string(id)).Str("name", name).Msg("peer renamed")
			d.emit(d.cb.Updated, *p)
		}
		return *p
	}
	if name == "" {
		name = domain.PlaceholderName(id)
	}
	p := &domain.Peer{ID: id, DisplayName: name}
	d.peers[id] = p
	log.Info().Str("module", "peers").Str("peer_id", string(id)).Str("name", name).Msg("peer added")
	d.emit(d.cb.Added, *p)
	return *p
}

// Ensure returns the peer, creating a placeholder entry when the peer has
// not been announced yet. Departed peers are not recreated.
func (d *Directory) Ensure(id domain.PeerID) (domain.Peer, bool) {
	if p, ok := d.peers[id]; ok {
		return *p, true
	}
	if d.Departed(id) {
		return domain.Peer{}, false
	}
	return d.Upsert(id, ""), true
}

// Snapshot merges the initial roster. Entries for peers that already left
// are ignored so a late snapshot cannot resurrect them.
func (d *Directory) Snapshot(list []signaling.PeerInfo) {
	for _, pi := range list {
		if d.Departed(pi.ID) {
			continue
		}
		d.Upsert(pi.ID, pi.DisplayName)
	}
}

// Remove drops the peer, closes its inbound flows and clears the pin.
// The cascade runs even for peers never seen, so flows attached by id alone
// are released too.
func (d *Directory) Remove(id domain.PeerID) bool {
	closed := d.flows.CloseByPeer(id)
	d.departed[id] = struct{}{}
	if d.pinned == id {
		d.pinned = ""
		if d.cb.PinCleared != nil {
			d.cb.PinCleared(id)
		}
	}
	p, ok := d.peers[id]
	if !ok {
		return false
	}
	delete(d.peers, id)
	log.Info().Str("module", "peers").Str("peer_id", string(id)).Int("flows_closed", len(closed)).Msg("peer removed")
	d.emit(d.cb.Removed, *p)
	return true
}

// SetPresence updates the has-audio/has-video flags.
func (d *Directory) SetPresence(id domain.PeerID, audio, video bool) {
	p, ok := d.peers[id]
	if !ok || (p.HasAudio == audio && p.HasVideo == video) {
		return
	}
	p.HasAudio, p.HasVideo = audio, video
	d.emit(d.cb.Updated, *p)
}

func (d *Directory) Get(id domain.PeerID) (domain.Peer, bool) {
	p, ok := d.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	return *p, true
}

func (d *Directory) Departed(id domain.PeerID) bool {
	_, ok := d.departed[id]
	return ok
}

// Pin selects a peer for presentation. An empty id clears the pin.
func (d *Directory) Pin(id domain.PeerID) error {
	if id != "" {
		if _, ok := d.peers[id]; !ok {
			return ErrUnknownPeer
		}
	}
	d.pinned = id
	return nil
}

func (d *Directory) Pinned() domain.PeerID { return d.pinned }

// Peers returns a copy of all peers ordered by id.
func (d *Directory) Peers() []domain.Peer {
	out := make([]domain.Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Len() int { return len(d.peers) }

// Clear forgets every peer without cascading; used on teardown after the
// flows are already closed.
func (d *Directory) Clear() {
	clear(d.peers)
	d.pinned = ""
}

func (d *Directory) emit(fn func(domain.Peer), p domain.Peer) {
	if fn != nil {
		fn(p)
	}
}
