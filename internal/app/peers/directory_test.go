package peers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

type flowsStub struct {
	owned  map[domain.PeerID][]domain.FlowID
	closed []domain.PeerID
}

func (s *flowsStub) CloseByPeer(p domain.PeerID) []domain.FlowID {
	s.closed = append(s.closed, p)
	ids := s.owned[p]
	delete(s.owned, p)
	return ids
}

// each step is either a snapshot or a peer-joined for the same id
type step struct {
	snapshot bool
	name     string
}

func permutations(steps []step) [][]step {
	if len(steps) <= 1 {
		return [][]step{steps}
	}
	var out [][]step
	for i := range steps {
		rest := make([]step, 0, len(steps)-1)
		rest = append(rest, steps[:i]...)
		rest = append(rest, steps[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]step{steps[i]}, p...))
		}
	}
	return out
}

func TestDirectory_OrderIndependentUpsert(t *testing.T) {
	steps := []step{
		{snapshot: true, name: "Ann (snapshot)"},
		{name: "Ann"},
		{name: "Ann B."},
	}
	for i, order := range permutations(steps) {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			d := NewDirectory(&flowsStub{}, Callbacks{})
			for _, s := range order {
				if s.snapshot {
					d.Snapshot([]signaling.PeerInfo{{ID: "A", DisplayName: s.name}})
				} else {
					d.Upsert("A", s.name)
				}
			}
			peers := d.Peers()
			require.Len(t, peers, 1)
			assert.Equal(t, order[len(order)-1].name, peers[0].DisplayName)
		})
	}
}

func TestDirectory_RemoveCascadesAndClearsPin(t *testing.T) {
	fs := &flowsStub{owned: map[domain.PeerID][]domain.FlowID{"B": {"c-1", "c-2"}}}
	var removed []domain.Peer
	var cleared []domain.PeerID
	d := NewDirectory(fs, Callbacks{
		Removed:    func(p domain.Peer) { removed = append(removed, p) },
		PinCleared: func(id domain.PeerID) { cleared = append(cleared, id) },
	})
	d.Upsert("B", "Bob")
	require.NoError(t, d.Pin("B"))

	assert.True(t, d.Remove("B"))
	assert.Equal(t, []domain.PeerID{"B"}, fs.closed)
	assert.Empty(t, d.Pinned())
	assert.Equal(t, []domain.PeerID{"B"}, cleared)
	require.Len(t, removed, 1)
	assert.True(t, d.Departed("B"))

	// a second peer-left still cascades but reports nothing removed
	assert.False(t, d.Remove("B"))
	assert.Len(t, removed, 1)
}

func TestDirectory_SnapshotIgnoresDepartedButRejoinRevives(t *testing.T) {
	d := NewDirectory(&flowsStub{}, Callbacks{})
	d.Upsert("B", "Bob")
	d.Remove("B")

	d.Snapshot([]signaling.PeerInfo{{ID: "B", DisplayName: "Bob"}})
	_, ok := d.Get("B")
	assert.False(t, ok)

	_, ok = d.Ensure("B")
	assert.False(t, ok)

	d.Upsert("B", "Bob again")
	p, ok := d.Get("B")
	require.True(t, ok)
	assert.Equal(t, "Bob again", p.DisplayName)
	assert.False(t, d.Departed("B"))
}

func TestDirectory_EnsureCreatesPlaceholderThenJoinNames(t *testing.T) {
	var added, updated int
	d := NewDirectory(&flowsStub{}, Callbacks{
		Added:   func(domain.Peer) { added++ },
		Updated: func(domain.Peer) { updated++ },
	})
	p, ok := d.Ensure("0123456789abcdef")
	require.True(t, ok)
	assert.Equal(t, "User 01234567", p.DisplayName)

	d.Upsert("0123456789abcdef", "Bea")
	p, _ = d.Get("0123456789abcdef")
	assert.Equal(t, "Bea", p.DisplayName)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, updated)

	// an empty name never overwrites a real one
	d.Upsert("0123456789abcdef", "")
	p, _ = d.Get("0123456789abcdef")
	assert.Equal(t, "Bea", p.DisplayName)
}

func TestDirectory_PresenceAndPin(t *testing.T) {
	var updates []domain.Peer
	d := NewDirectory(&flowsStub{}, Callbacks{Updated: func(p domain.Peer) { updates = append(updates, p) }})
	d.Upsert("A", "Ann")

	d.SetPresence("A", true, false)
	d.SetPresence("A", true, false)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].HasAudio)

	assert.ErrorIs(t, d.Pin("nobody"), ErrUnknownPeer)
	require.NoError(t, d.Pin("A"))
	assert.Equal(t, domain.PeerID("A"), d.Pinned())
	require.NoError(t, d.Pin(""))
	assert.Empty(t, d.Pinned())
}
