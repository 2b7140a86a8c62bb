// Package flows keeps the outbound and inbound media flows of a session and
// the ProducerToPeer index used to resolve who owns an inbound flow.
//
// The Registry is owned by the session loop and is not safe for concurrent use.
package flows

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var ErrDuplicateFlow = errors.New("flow already registered")

// Outcome says what OnConsumed did with a confirmation.
type Outcome int

const (
	Admitted Outcome = iota
	Parked
	Duplicate
	Discarded
)

type Deps struct {
	Send func(signaling.Message) error
	// Consume creates the engine consumer off the loop; done runs on the loop.
	Consume func(opts core.ConsumeOptions, done func(core.Consumer, error)) error
	// Target returns the receive transport and local capabilities. ready is
	// false until both transports connected and capabilities are known.
	Target func() (transport domain.TransportID, caps signaling.RTPCapabilities, ready bool)
	// Departed reports peers that already left the room.
	Departed func(domain.PeerID) bool
	Post     func(func()) bool
	// OrphanTimeout bounds how long an unresolvable confirmation is kept.
	OrphanTimeout time.Duration
}

// Callbacks run on the loop.
type Callbacks struct {
	Activated func(f domain.Flow, c core.Consumer)
	// Removed sees the flow in its closed state; wasActive tells whether
	// Activated (or RegisterOutbound) had made it visible before.
	Removed func(f domain.Flow, wasActive bool)
	Warn    func(reason app.WarningReason, id domain.FlowID, msg string)
}

type record struct {
	flow     domain.Flow
	producer core.Producer
	consumer core.Consumer
	resumed  bool
}

type parked struct {
	msg   signaling.Consumed
	timer *time.Timer
}

type Registry struct {
	deps Deps
	cb   Callbacks

	flows     map[domain.FlowID]*record
	byRemote  map[domain.FlowID]domain.FlowID
	owners    map[domain.FlowID]domain.PeerID
	requested map[domain.FlowID]struct{}
	queued    []domain.FlowID
	queuedSet map[domain.FlowID]struct{}
	parked    map[domain.FlowID]*parked

	// remote flows requested from a peer that left before the server answered
	leftOwners map[domain.FlowID]domain.PeerID
}

func NewRegistry(deps Deps, cb Callbacks) *Registry {
	return &Registry{
		deps:      deps,
		cb:        cb,
		flows:     make(map[domain.FlowID]*record),
		byRemote:  make(map[domain.FlowID]domain.FlowID),
		owners:    make(map[domain.FlowID]domain.PeerID),
		requested: make(map[domain.FlowID]struct{}),
		queuedSet: make(map[domain.FlowID]struct{}),
		parked:    make(map[domain.FlowID]*parked),

		leftOwners: make(map[domain.FlowID]domain.PeerID),
	}
}

// RegisterOutbound stores a produced local track as an active flow.
func (r *Registry) RegisterOutbound(p core.Producer) (domain.Flow, error) {
	if _, ok := r.flows[p.ID()]; ok {
		return domain.Flow{}, fmt.Errorf("%w: %s", ErrDuplicateFlow, p.ID())
	}
	f := domain.Flow{
		ID:        p.ID(),
		Kind:      p.Kind(),
		Direction: domain.FlowOutbound,
		State:     domain.FlowActive,
	}
	r.flows[f.ID] = &record{flow: f, producer: p}
	log.Info().Str("module", "flows").Str("flow_id", string(f.ID)).Str("kind", string(f.Kind)).Msg("outbound flow active")
	return f, nil
}

// Outbound returns the active local flow of kind.
func (r *Registry) Outbound(kind domain.MediaKind) (domain.Flow, bool) {
	for _, rec := range r.flows {
		if rec.flow.Direction == domain.FlowOutbound && rec.flow.Kind == kind {
			return rec.flow, true
		}
	}
	return domain.Flow{}, false
}

// SetOutboundPaused pauses or resumes the producer of kind.
func (r *Registry) SetOutboundPaused(kind domain.MediaKind, paused bool) (domain.Flow, bool) {
	for _, rec := range r.flows {
		if rec.flow.Direction != domain.FlowOutbound || rec.flow.Kind != kind {
			continue
		}
		if rec.flow.Paused != paused {
			if paused {
				rec.producer.Pause()
			} else {
				rec.producer.Resume()
			}
			rec.flow.Paused = paused
		}
		return rec.flow, true
	}
	return domain.Flow{}, false
}

// IndexOwner records that peer owns the remote flow. A confirmation parked
// for that flow is admitted right away.
func (r *Registry) IndexOwner(remote domain.FlowID, peer domain.PeerID) {
	if remote == "" || peer == "" {
		return
	}
	r.owners[remote] = peer
	if p, ok := r.parked[remote]; ok {
		p.timer.Stop()
		delete(r.parked, remote)
		log.Debug().Str("module", "flows").Str("remote_id", string(remote)).Str("peer_id", string(peer)).Msg("parked flow resolved")
		r.admit(p.msg, peer)
	}
}

func (r *Registry) Owner(remote domain.FlowID) (domain.PeerID, bool) {
	p, ok := r.owners[remote]
	return p, ok
}

// RequestInbound asks the server to consume remote. Requests for a remote
// flow that is already requested, queued, parked or consumed are no-ops.
// Until the session is ready requests are queued and sent by Flush.
func (r *Registry) RequestInbound(remote domain.FlowID, peer domain.PeerID) error {
	if peer != "" {
		r.IndexOwner(remote, peer)
	}
	if r.known(remote) {
		return nil
	}
	if _, _, ready := r.deps.Target(); !ready {
		r.queued = append(r.queued, remote)
		r.queuedSet[remote] = struct{}{}
		log.Debug().Str("module", "flows").Str("remote_id", string(remote)).Msg("consume queued")
		return nil
	}
	return r.sendConsume(remote)
}

// Flush sends every queued consume request. It is a no-op until ready.
func (r *Registry) Flush() (int, error) {
	if _, _, ready := r.deps.Target(); !ready {
		return 0, nil
	}
	queued := r.queued
	r.queued = nil
	n := 0
	for _, remote := range queued {
		delete(r.queuedSet, remote)
		if err := r.sendConsume(remote); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Registry) sendConsume(remote domain.FlowID) error {
	tid, caps, _ := r.deps.Target()
	if err := r.deps.Send(signaling.Consume{TransportID: tid, ProducerID: remote, RTPCapabilities: caps}); err != nil {
		return fmt.Errorf("consume %s: %w", remote, err)
	}
	r.requested[remote] = struct{}{}
	return nil
}

func (r *Registry) known(remote domain.FlowID) bool {
	if _, ok := r.requested[remote]; ok {
		return true
	}
	if _, ok := r.queuedSet[remote]; ok {
		return true
	}
	if _, ok := r.parked[remote]; ok {
		return true
	}
	_, ok := r.byRemote[remote]
	return ok
}

// OnConsumed handles a consume confirmation. The owner is the explicit
// peer id if present, else the ProducerToPeer index; without either the
// confirmation is parked until IndexOwner names the owner or the orphan
// timeout discards it.
func (r *Registry) OnConsumed(msg signaling.Consumed) Outcome {
	if _, ok := r.flows[msg.ID]; ok {
		return Duplicate
	}
	if _, ok := r.byRemote[msg.ProducerID]; ok {
		return Duplicate
	}
	if _, ok := r.parked[msg.ProducerID]; ok {
		return Duplicate
	}
	delete(r.requested, msg.ProducerID)

	owner := msg.PeerID
	if owner == "" {
		owner = r.owners[msg.ProducerID]
	}
	if owner == "" {
		owner = r.leftOwners[msg.ProducerID]
	}
	delete(r.leftOwners, msg.ProducerID)
	if owner == "" {
		r.park(msg)
		return Parked
	}
	return r.admit(msg, owner)
}

func (r *Registry) park(msg signaling.Consumed) {
	remote := msg.ProducerID
	p := &parked{msg: msg}
	p.timer = time.AfterFunc(r.deps.OrphanTimeout, func() {
		r.deps.Post(func() { r.expire(remote, p) })
	})
	r.parked[remote] = p
	log.Debug().Str("module", "flows").Str("flow_id", string(msg.ID)).Str("remote_id", string(remote)).Msg("consumed without owner, parked")
}

func (r *Registry) expire(remote domain.FlowID, p *parked) {
	if cur, ok := r.parked[remote]; !ok || cur != p {
		return
	}
	delete(r.parked, remote)
	r.warn(app.WarnOrphanFlow, p.msg.ID, "no owner resolved for inbound flow")
}

// admit creates the pending inbound flow and starts the engine consumer.
func (r *Registry) admit(msg signaling.Consumed, owner domain.PeerID) Outcome {
	if r.deps.Departed != nil && r.deps.Departed(owner) {
		if r.owners[msg.ProducerID] == owner {
			delete(r.owners, msg.ProducerID)
		}
		r.warn(app.WarnDepartedPeer, msg.ID, "inbound flow for a peer that left")
		return Discarded
	}
	r.owners[msg.ProducerID] = owner
	f := domain.Flow{
		ID:        msg.ID,
		RemoteID:  msg.ProducerID,
		Kind:      msg.Kind,
		Direction: domain.FlowInbound,
		Owner:     owner,
		State:     domain.FlowPending,
		Paused:    true,
	}
	r.flows[f.ID] = &record{flow: f}
	r.byRemote[f.RemoteID] = f.ID

	id := f.ID
	err := r.deps.Consume(core.ConsumeOptions{
		ID:            msg.ID,
		ProducerID:    msg.ProducerID,
		Kind:          msg.Kind,
		RTPParameters: msg.RTPParameters,
	}, func(c core.Consumer, err error) { r.activate(id, c, err) })
	if err != nil {
		r.drop(id)
		r.warn(app.WarnCannotConsume, id, err.Error())
		return Discarded
	}
	return Admitted
}

// activate runs when the engine consumer is ready. The flow may be gone by
// then, in which case the consumer is released.
func (r *Registry) activate(id domain.FlowID, c core.Consumer, err error) {
	rec, ok := r.flows[id]
	if !ok || rec.flow.State != domain.FlowPending {
		if c != nil {
			c.Close()
		}
		return
	}
	if err != nil {
		r.drop(id)
		r.warn(app.WarnCannotConsume, id, err.Error())
		return
	}
	rec.consumer = c
	rec.flow.State = domain.FlowActive
	if !rec.resumed {
		rec.resumed = true
		if err := r.deps.Send(signaling.ResumeConsumer{ConsumerID: id}); err != nil {
			log.Warn().Err(err).Str("module", "flows").Str("flow_id", string(id)).Msg("resume-consumer not sent")
		}
	}
	log.Info().Str("module", "flows").
		Str("flow_id", string(id)).
		Str("peer_id", string(rec.flow.Owner)).
		Str("kind", string(rec.flow.Kind)).
		Msg("inbound flow active")
	if r.cb.Activated != nil {
		r.cb.Activated(rec.flow, c)
	}
}

// OnResumed marks the inbound flow as flowing. False for unknown flows.
func (r *Registry) OnResumed(id domain.FlowID) bool {
	rec, ok := r.flows[id]
	if !ok || rec.flow.Direction != domain.FlowInbound {
		return false
	}
	rec.flow.Paused = false
	return true
}

// Forget drops an outstanding or queued consume request for remote, as
// after cannot-consume. It reports whether anything was outstanding.
func (r *Registry) Forget(remote domain.FlowID) bool {
	_, req := r.requested[remote]
	delete(r.requested, remote)
	delete(r.leftOwners, remote)
	_, q := r.queuedSet[remote]
	if q {
		delete(r.queuedSet, remote)
		r.queued = removeID(r.queued, remote)
	}
	return req || q
}

// Close releases the flow's engine handle and removes it from every index.
// A confirmation still parked under that consumer id is dropped as well.
// Closing an unknown or already closed flow does nothing.
func (r *Registry) Close(id domain.FlowID) bool {
	rec, ok := r.flows[id]
	if !ok {
		return r.unpark(id)
	}
	if rec.producer != nil {
		rec.producer.Close()
	}
	if rec.consumer != nil {
		rec.consumer.Close()
	}
	r.drop(id)
	wasActive := rec.flow.State == domain.FlowActive
	rec.flow.State = domain.FlowClosed
	log.Debug().Str("module", "flows").Str("flow_id", string(id)).Msg("flow closed")
	if r.cb.Removed != nil {
		r.cb.Removed(rec.flow, wasActive)
	}
	return true
}

func (r *Registry) unpark(id domain.FlowID) bool {
	for remote, p := range r.parked {
		if p.msg.ID != id {
			continue
		}
		p.timer.Stop()
		delete(r.parked, remote)
		log.Debug().Str("module", "flows").Str("flow_id", string(id)).Str("remote_id", string(remote)).Msg("parked flow closed by server")
		return true
	}
	return false
}

func (r *Registry) drop(id domain.FlowID) {
	rec, ok := r.flows[id]
	if !ok {
		return
	}
	delete(r.flows, id)
	if rec.flow.RemoteID != "" {
		delete(r.byRemote, rec.flow.RemoteID)
		delete(r.owners, rec.flow.RemoteID)
	}
}

// CloseByPeer closes every inbound flow owned by peer and drops the
// pending requests and index entries naming it. Requests already sent are
// remembered so their late confirmation is discarded as departed.
func (r *Registry) CloseByPeer(peer domain.PeerID) []domain.FlowID {
	var ids []domain.FlowID
	for id, rec := range r.flows {
		if rec.flow.Direction == domain.FlowInbound && rec.flow.Owner == peer {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r.Close(id)
	}
	for remote, owner := range r.owners {
		if owner != peer {
			continue
		}
		_, outstanding := r.requested[remote]
		delete(r.owners, remote)
		r.Forget(remote)
		if outstanding {
			r.leftOwners[remote] = peer
		}
	}
	return ids
}

// CloseAll releases every flow and cancels parked confirmations.
func (r *Registry) CloseAll() {
	ids := make([]domain.FlowID, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r.Close(id)
	}
	for remote, p := range r.parked {
		p.timer.Stop()
		delete(r.parked, remote)
	}
	r.queued = nil
	clear(r.queuedSet)
	clear(r.requested)
	clear(r.leftOwners)
}

// Presence reports which kinds of active inbound media peer currently has.
func (r *Registry) Presence(peer domain.PeerID) (audio, video bool) {
	for _, rec := range r.flows {
		if rec.flow.Direction != domain.FlowInbound || rec.flow.Owner != peer || rec.flow.State != domain.FlowActive {
			continue
		}
		switch rec.flow.Kind {
		case domain.KindAudio:
			audio = true
		case domain.KindVideo:
			video = true
		}
	}
	return audio, video
}

func (r *Registry) Get(id domain.FlowID) (domain.Flow, bool) {
	rec, ok := r.flows[id]
	if !ok {
		return domain.Flow{}, false
	}
	return rec.flow, true
}

// Flows returns a copy of every live flow ordered by id.
func (r *Registry) Flows() []domain.Flow {
	out := make([]domain.Flow, 0, len(r.flows))
	for _, rec := range r.flows {
		out = append(out, rec.flow)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Owners returns a copy of the ProducerToPeer index.
func (r *Registry) Owners() map[domain.FlowID]domain.PeerID {
	out := make(map[domain.FlowID]domain.PeerID, len(r.owners))
	for k, v := range r.owners {
		out[k] = v
	}
	return out
}

// Parked lists the remote ids of confirmations still waiting for an owner.
func (r *Registry) Parked() []domain.FlowID {
	out := make([]domain.FlowID, 0, len(r.parked))
	for remote := range r.parked {
		out = append(out, remote)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Queued() int { return len(r.queued) }

func (r *Registry) warn(reason app.WarningReason, id domain.FlowID, msg string) {
	if r.cb.Warn != nil {
		r.cb.Warn(reason, id, msg)
	}
}

func removeID(ids []domain.FlowID, id domain.FlowID) []domain.FlowID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
