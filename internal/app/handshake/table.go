// Package handshake correlates outbound requests with their confirmations.
//
// A Table is owned by the session loop and is not safe for concurrent use.
// Waiters run on other goroutines and reach the table only through the
// loop's post function.
package handshake

import (
	"errors"
)

type Step string

const (
	StepConnect Step = "connect"
	StepProduce Step = "produce"
)

var (
	ErrCancelled  = errors.New("handshake cancelled")
	ErrSuperseded = errors.New("handshake superseded")
	ErrTimeout    = errors.New("handshake timed out")
)

type Key struct {
	Step Step
	ID   string
}

type Result struct {
	Value any
	Err   error
}

type entry struct {
	ch  chan<- Result
	seq uint64
}

type Table struct {
	entries map[Key]entry
	seq     uint64
}

func NewTable() *Table {
	return &Table{entries: make(map[Key]entry)}
}

// Register installs a one-shot waiter for key. ch must have room for one result.
// An older waiter under the same key is rejected with ErrSuperseded.
func (t *Table) Register(key Key, ch chan<- Result) {
	if old, ok := t.entries[key]; ok {
		old.ch <- Result{Err: ErrSuperseded}
	}
	t.seq++
	t.entries[key] = entry{ch: ch, seq: t.seq}
}

// Resolve delivers v to the waiter of key and forgets it. It reports false
// when nobody waits, which is how duplicate confirmations are detected.
func (t *Table) Resolve(key Key, v any) bool {
	return t.complete(key, Result{Value: v})
}

func (t *Table) Reject(key Key, err error) bool {
	return t.complete(key, Result{Err: err})
}

// ResolveOldest resolves the longest-waiting entry of step.
func (t *Table) ResolveOldest(step Step, v any) (Key, bool) {
	var (
		found bool
		best  Key
		seq   uint64
	)
	for k, e := range t.entries {
		if k.Step != step {
			continue
		}
		if !found || e.seq < seq {
			found, best, seq = true, k, e.seq
		}
	}
	if !found {
		return Key{}, false
	}
	return best, t.Resolve(best, v)
}

// Forget drops key only if it is still held by ch.
func (t *Table) Forget(key Key, ch chan<- Result) {
	if e, ok := t.entries[key]; ok && e.ch == ch {
		delete(t.entries, key)
	}
}

// CancelAll rejects every outstanding waiter with err.
func (t *Table) CancelAll(err error) int {
	n := len(t.entries)
	for k, e := range t.entries {
		e.ch <- Result{Err: err}
		delete(t.entries, k)
	}
	return n
}

func (t *Table) Pending(step Step) int {
	n := 0
	for k := range t.entries {
		if k.Step == step {
			n++
		}
	}
	return n
}

func (t *Table) Len() int { return len(t.entries) }

func (t *Table) complete(key Key, r Result) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	e.ch <- r
	return true
}
