package orch

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

const (
	PhaseIdle               = "idle"
	PhaseJoining            = "joining"
	PhaseNegotiating        = "negotiating"
	PhaseCreatingTransports = "creating_transports"
	PhaseProducing          = "producing"
	PhaseLive               = "live"
	PhaseLeaving            = "leaving"
	PhaseClosed             = "closed"
	PhaseFailed             = "failed"
)

const (
	evJoin             = "join"
	evNegotiate        = "negotiate"
	evCreateTransports = "create_transports"
	evProduce          = "produce"
	evGoLive           = "go_live"
	evLeave            = "leave"
	evClose            = "close"
	evFail             = "fail"
)

var active = []string{
	PhaseIdle,
	PhaseJoining,
	PhaseNegotiating,
	PhaseCreatingTransports,
	PhaseProducing,
	PhaseLive,
}

// newPhaseMachine builds the session lifecycle. onEnter runs after every
// transition and must not fire further events.
func newPhaseMachine(onEnter func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		PhaseIdle,
		fsm.Events{
			{Name: evJoin, Src: []string{PhaseIdle}, Dst: PhaseJoining},
			{Name: evNegotiate, Src: []string{PhaseJoining}, Dst: PhaseNegotiating},
			{Name: evCreateTransports, Src: []string{PhaseNegotiating}, Dst: PhaseCreatingTransports},
			{Name: evProduce, Src: []string{PhaseCreatingTransports}, Dst: PhaseProducing},
			{Name: evGoLive, Src: []string{PhaseProducing}, Dst: PhaseLive},
			{Name: evLeave, Src: active, Dst: PhaseLeaving},
			{Name: evClose, Src: []string{PhaseLeaving}, Dst: PhaseClosed},
			{Name: evFail, Src: append(append([]string{}, active...), PhaseLeaving), Dst: PhaseFailed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				onEnter(e.Src, e.Dst)
			},
		},
	)
}

func terminal(phase string) bool {
	return phase == PhaseClosed || phase == PhaseFailed
}

// fire applies event, treating "already there" as success.
func fire(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return err
}
