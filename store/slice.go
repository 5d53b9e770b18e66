// Package store holds one state container per REST resource. Reducers are
// pure functions over State; effects call the API and commit through them.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"library-client/api"
	"library-client/library"
)

type Status int

const (
	Idle Status = iota
	Loading
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a snapshot of one resource. Err and Message are short-lived
// notices cleared by the next request or by ClearNotice.
type State[T any] struct {
	Status  Status
	Data    T
	Err     string
	Message string
	Epoch   uint64
	// Version increments on every committed change.
	Version uint64
	// Loaded is set once a load response has been committed. Until then
	// Data only holds the records written by mutations.
	Loaded bool
}

func (s State[T]) Loading() bool { return s.Status == Loading }

// Pending starts request epoch. Any response tagged with an older epoch is
// stale from now on.
func Pending[T any](s State[T], epoch uint64) State[T] {
	if epoch <= s.Epoch {
		return s
	}
	s.Epoch = epoch
	s.Status = Loading
	s.Err = ""
	s.Message = ""
	s.Version++
	return s
}

// Fulfilled commits a load response; it is a no-op for a stale epoch.
func Fulfilled[T any](s State[T], epoch uint64, data T, msg string) State[T] {
	if epoch != s.Epoch {
		return s
	}
	s.Status = Succeeded
	s.Data = data
	s.Err = ""
	s.Message = msg
	s.Loaded = true
	s.Version++
	return s
}

// Rejected records a failed load; it is a no-op for a stale epoch.
func Rejected[T any](s State[T], epoch uint64, errMsg string) State[T] {
	if epoch != s.Epoch {
		return s
	}
	s.Status = Failed
	s.Err = errMsg
	s.Message = ""
	s.Version++
	return s
}

// Applied folds a mutation result into the current data.
func Applied[T any](s State[T], apply func(T) T, msg string) State[T] {
	if apply != nil {
		s.Data = apply(s.Data)
	}
	s.Status = Succeeded
	s.Err = ""
	s.Message = msg
	s.Version++
	return s
}

// MutationFailed records a failed mutation without touching data.
func MutationFailed[T any](s State[T], errMsg string) State[T] {
	s.Status = Failed
	s.Err = errMsg
	s.Message = ""
	s.Version++
	return s
}

func ClearNotice[T any](s State[T]) State[T] {
	if s.Err == "" && s.Message == "" {
		return s
	}
	s.Err = ""
	s.Message = ""
	s.Version++
	return s
}

// Notice is a transient user notification emitted by an effect.
type Notice struct {
	Slice string
	Err   bool
	Text  string
}

// Change is one record written by a successful mutation. Exactly one of
// Book, DeletedBook or Borrow is set.
type Change struct {
	Slice       string
	Book        *library.Book
	DeletedBook string
	Borrow      *library.BorrowRecord
}

// env is shared by every slice of a Store.
type env struct {
	client     *api.Client
	log        *slog.Logger
	notify     func(Notice)
	changed    func(Change)
	expired    func()
	batchLimit int
}

// Slice is a mutex-guarded container for one resource.
type Slice[T any] struct {
	name string
	env  *env

	mu         sync.Mutex
	state      State[T]
	next       uint64
	cancelLoad context.CancelFunc
	subs       map[int]func(State[T])
	subSeq     int
}

func newSlice[T any](name string, e *env, initial T) *Slice[T] {
	return &Slice[T]{name: name, env: e, state: State[T]{Data: initial}, subs: make(map[int]func(State[T]))}
}

func (s *Slice[T]) Name() string { return s.name }

// State returns the current snapshot.
func (s *Slice[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn after every committed state change. The returned
// function removes the subscription.
func (s *Slice[T]) Subscribe(fn func(State[T])) func() {
	s.mu.Lock()
	id := s.subSeq
	s.subSeq++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Dispatch applies reduce to the current state and notifies subscribers
// when the reducer committed a change.
func (s *Slice[T]) Dispatch(reduce func(State[T]) State[T]) State[T] {
	s.mu.Lock()
	prev := s.state
	s.state = reduce(prev)
	cur := s.state
	subs := make([]func(State[T]), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if cur.Version == prev.Version {
		return cur
	}
	for _, fn := range subs {
		fn(cur)
	}
	return cur
}

func (s *Slice[T]) ClearNotice() { s.Dispatch(ClearNotice[T]) }

// Reset returns the slice to its zero state, keeping the epoch counter.
func (s *Slice[T]) Reset(initial T) {
	s.mu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.next++
	epoch := s.next
	s.mu.Unlock()
	s.Dispatch(func(st State[T]) State[T] {
		return State[T]{Data: initial, Epoch: epoch, Version: st.Version + 1}
	})
}

// beginLoad opens a new epoch and cancels the previous in-flight load.
func (s *Slice[T]) beginLoad(ctx context.Context) (context.Context, uint64, func()) {
	s.mu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	lctx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	s.next++
	epoch := s.next
	s.mu.Unlock()

	s.Dispatch(func(st State[T]) State[T] { return Pending(st, epoch) })
	return lctx, epoch, cancel
}

// beginMutation opens a new epoch so that older in-flight loads are
// discarded, without cancelling them.
func (s *Slice[T]) beginMutation() {
	s.mu.Lock()
	s.next++
	epoch := s.next
	s.mu.Unlock()
	s.Dispatch(func(st State[T]) State[T] { return Pending(st, epoch) })
}

// Load runs fetch under a new epoch and commits its result unless a newer
// request superseded it.
func (s *Slice[T]) Load(ctx context.Context, fetch func(context.Context) (T, error)) error {
	_, err := Fetch(ctx, s, fetch, func(_ T, data T) T { return data })
	return err
}

// Fetch is Load for reads that fill only part of the slice's data: apply
// merges the response into the current data. The result is committed only
// for the latest epoch.
func Fetch[T, R any](ctx context.Context, s *Slice[T], fetch func(context.Context) (R, error), apply func(T, R) T) (R, error) {
	lctx, epoch, cancel := s.beginLoad(ctx)
	defer cancel()

	res, err := fetch(lctx)
	if err != nil {
		if s.stale(epoch) && errors.Is(err, context.Canceled) {
			return res, err
		}
		s.Dispatch(func(st State[T]) State[T] { return Rejected(st, epoch, api.Message(err)) })
		s.fail(err)
		return res, err
	}
	s.Dispatch(func(st State[T]) State[T] {
		if st.Epoch != epoch {
			return st
		}
		return Fulfilled(st, epoch, apply(st.Data, res), "")
	})
	return res, nil
}

func (s *Slice[T]) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Epoch != epoch
}

// Mutate runs call and folds its result into the slice with apply.
func Mutate[T, R any](ctx context.Context, s *Slice[T], call func(context.Context) (R, string, error), apply func(T, R) T) (R, error) {
	s.beginMutation()
	res, msg, err := call(ctx)
	if err != nil {
		s.Dispatch(func(st State[T]) State[T] { return MutationFailed(st, api.Message(err)) })
		s.fail(err)
		return res, err
	}
	var fold func(T) T
	if apply != nil {
		fold = func(d T) T { return apply(d, res) }
	}
	s.Dispatch(func(st State[T]) State[T] { return Applied(st, fold, msg) })
	s.succeed(msg)
	return res, nil
}

func (s *Slice[T]) fail(err error) {
	msg := api.Message(err)
	s.env.log.Warn("store: request failed", "slice", s.name, "err", err)
	if s.env.notify != nil {
		s.env.notify(Notice{Slice: s.name, Err: true, Text: msg})
	}
	if errors.Is(err, api.ErrSessionExpired) && s.env.expired != nil {
		s.env.expired()
	}
}

func (s *Slice[T]) record(c Change) {
	if s.env.changed == nil {
		return
	}
	c.Slice = s.name
	s.env.changed(c)
}

func (s *Slice[T]) succeed(msg string) {
	if msg != "" && s.env.notify != nil {
		s.env.notify(Notice{Slice: s.name, Text: msg})
	}
}
