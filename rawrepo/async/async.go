// Package async provides the Concurrent Wrapper (CW): it turns a single,
// not-thread-safe *rawrepo.Repository handle into something concurrent
// callers can share safely.
//
// The wrapper does not pool handles or clone the repository. Instead it
// holds exactly one handle in a capacity-1 channel and, for the duration
// of each call, moves that handle out to the goroutine actually running
// the operation — the channel is empty while a call is in flight, so
// there is no path by which two goroutines can hold a usable reference
// to the handle at once. When the call returns (or panics), the handle
// is moved back before the channel accepts the next receiver. This is
// deliberately a move, not a swap with a replacement handle: there is
// only ever one real handle, and "checked out" is a visible state rather
// than something masked by a stand-in.
package async

import (
	"context"
	"errors"
	"log"

	"github.com/tolelom/repochain/rawrepo"
)

// ErrBusy is returned by TryDo when the handle is currently checked out
// by another call.
var ErrBusy = errors.New("async: repository handle is in use")

// Wrapper serializes access to a single *rawrepo.Repository handle. slot
// holds the handle when it is free and is empty while a call is in
// flight; acquiring and releasing the handle are then ordinary channel
// receive/send operations rather than a mutex paired with a nilable
// field.
type Wrapper struct {
	slot chan *rawrepo.Repository
}

// New wraps repo. repo must not be used directly anywhere else once
// wrapped.
func New(repo *rawrepo.Repository) *Wrapper {
	w := &Wrapper{slot: make(chan *rawrepo.Repository, 1)}
	w.slot <- repo
	return w
}

type result[T any] struct {
	val    T
	err    error
	panicV any
}

// Do waits for exclusive access to the wrapped handle, runs fn with it,
// and returns its result. A second call against the same Wrapper blocks
// here until the first releases the handle — RR calls against one
// handle never run concurrently. If ctx is canceled before fn finishes,
// Do returns ctx.Err() immediately but fn keeps running to completion in
// the background (the underlying git operation is not cancelable
// mid-flight) and the handle is still returned to the slot once it
// does.
//
// A panic inside fn is recovered just long enough to guarantee the
// handle is returned to the slot, logged, and then re-raised from Do
// itself rather than from the background goroutine: a panic on a
// goroutine the caller never spawned cannot be caught by any recover
// the caller installs around its call to Do, and would instead crash
// the process outright.
func Do[T any](ctx context.Context, w *Wrapper, fn func(*rawrepo.Repository) (T, error)) (T, error) {
	var zero T
	var handle *rawrepo.Repository
	select {
	case handle = <-w.slot:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	done := make(chan result[T], 1)
	go func() {
		var r result[T]
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("async: operation panicked: %v", p)
					r.panicV = p
				}
			}()
			r.val, r.err = fn(handle)
		}()
		w.slot <- handle
		done <- r
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		if r.panicV != nil {
			panic(r.panicV)
		}
		return r.val, r.err
	}
}

// TryDo is Do without waiting: it returns ErrBusy immediately instead of
// blocking if the handle is already checked out by another call. There
// is no queueing — callers that need queueing should call Do instead.
// fn runs directly on the caller's goroutine, so a panic inside it
// propagates out of TryDo without any special handling.
func TryDo[T any](w *Wrapper, fn func(*rawrepo.Repository) (T, error)) (T, error) {
	var zero T
	var handle *rawrepo.Repository
	select {
	case handle = <-w.slot:
	default:
		return zero, ErrBusy
	}
	defer func() { w.slot <- handle }()
	return fn(handle)
}
