// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package credrecovery

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the phase of a run.
type State int32

// Run phases in order.
const (
	StateInit State = iota
	StateDiscovering
	StatePropagating
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDiscovering:
		return "discovering"
	case StatePropagating:
		return "propagating"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrRunning is returned if Run is called on an engine that was already run.
var ErrRunning = errors.New("engine has already been started")

const seedSource = "seed"

// The Engine propagates artifacts between recovery modules until no module
// can produce anything new. Scheduling is single threaded: every callback
// runs to completion before the next artifact is dispatched. The final
// artifact sets do not depend on the registration order of the modules,
// which only influences the order of log messages.
type Engine struct {
	modules []Module
	kb      KnowledgeBase
	logger  *zap.Logger

	state int32
	seeds []Artifact

	hashes    *hashSet
	passwords *passwordSet
	keys      *keySet
	queue     []Artifact

	txn      Txn
	failures map[string]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger, the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithKnowledgeBase enables hash lookups and the end of run commit.
func WithKnowledgeBase(kb KnowledgeBase) Option {
	return func(e *Engine) { e.kb = kb }
}

// New creates an Engine without modules.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:    zap.NewNop(),
		hashes:    newHashSet(),
		passwords: newPasswordSet(),
		keys:      newKeySet(),
		failures:  map[string]int{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register appends modules. It must be called before Run.
func (e *Engine) Register(modules ...Module) {
	if e.State() != StateInit {
		e.logger.Warn("ignoring module registration after start")
		return
	}
	e.modules = append(e.modules, modules...)
}

// Seed queues artifacts that are known before discovery, e.g. passwords
// supplied with the case.
func (e *Engine) Seed(artifacts ...Artifact) {
	if e.State() != StateInit {
		e.logger.Warn("ignoring seed after start")
		return
	}
	e.seeds = append(e.seeds, artifacts...)
}

// State returns the current phase. It is safe to call concurrently with Run.
func (e *Engine) State() State {
	return State(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s State) {
	atomic.StoreInt32(&e.state, int32(s))
	e.logger.Debug("state changed", zap.Stringer("state", s))
}

// Stats counts the artifacts seen so far.
type Stats struct {
	Hashes         int
	ResolvedHashes int
	Passwords      int
	Keys           int
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	hashes, resolved := e.hashes.counts()
	return Stats{
		Hashes:         hashes,
		ResolvedHashes: resolved,
		Passwords:      e.passwords.len(),
		Keys:           e.keys.len(),
	}
}

// Run executes discovery, propagation to the fixpoint, finalization and
// reporting. A failing module never aborts the run; the returned error is
// either the context error or a failed knowledge base commit. On
// cancellation the resolutions found so far are still committed and the
// partial result is returned.
func (e *Engine) Run(ctx context.Context) (*Result, error) { // nolint:gocyclo
	if !atomic.CompareAndSwapInt32(&e.state, int32(StateInit), int32(StateDiscovering)) {
		return nil, ErrRunning
	}
	e.logger.Debug("state changed", zap.Stringer("state", StateDiscovering))

	if e.kb != nil {
		e.txn = e.kb.Begin()
	}

	for _, seed := range e.seeds {
		e.enqueue(seed, seedSource)
	}

	for _, m := range e.modules {
		d, ok := m.(Discoverer)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.abort(err)
		}
		e.call(m, "discover", nil, func(out Emitter) error { return d.Discover(ctx, out) })
	}

	e.setState(StatePropagating)
	if err := e.propagate(ctx); err != nil {
		return e.abort(err)
	}

	for pass := 0; ; pass++ {
		e.setState(StateFinalizing)
		for _, m := range e.modules {
			f, ok := m.(Finalizer)
			if !ok {
				continue
			}
			e.call(m, "finalize", nil, func(out Emitter) error { return f.Finalize(ctx, out) })
		}
		if len(e.queue) == 0 {
			break
		}
		e.logger.Debug("finalization produced artifacts", zap.Int("pass", pass), zap.Int("pending", len(e.queue)))
		e.setState(StatePropagating)
		if err := e.propagate(ctx); err != nil {
			return e.abort(err)
		}
	}

	e.setState(StateDone)
	result := e.result(true)
	if err := e.commit(); err != nil {
		return result, err
	}

	stats := e.Stats()
	e.logger.Info("recovery finished",
		zap.Int("hashes", stats.Hashes),
		zap.Int("resolved", stats.ResolvedHashes),
		zap.Int("passwords", stats.Passwords),
		zap.Int("keys", stats.Keys),
	)
	return result, nil
}

func (e *Engine) abort(cause error) (*Result, error) {
	e.logger.Warn("recovery aborted", zap.Error(cause), zap.Stringer("state", e.State()))
	e.setState(StateDone)
	result := e.result(false)
	if err := e.commit(); err != nil {
		e.logger.Error("could not commit knowledge base", zap.Error(err))
	}
	return result, cause
}

func (e *Engine) commit() error {
	if e.txn == nil || e.txn.Len() == 0 {
		return nil
	}
	n := e.txn.Len()
	if err := e.txn.Commit(); err != nil {
		return errors.Wrap(err, "could not commit knowledge base")
	}
	e.logger.Debug("knowledge base committed", zap.Int("records", n))
	return nil
}

func (e *Engine) propagate(ctx context.Context) error {
	for len(e.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.dispatch(ctx, next)
	}
	e.queue = nil
	return nil
}

func (e *Engine) dispatch(ctx context.Context, artifact Artifact) {
	switch a := artifact.(type) {
	case Hash:
		e.dispatchHash(ctx, a)
	case Password:
		for _, m := range e.modules {
			if c, ok := m.(PasswordConsumer); ok {
				e.call(m, "password", a, func(out Emitter) error { return c.OnPassword(ctx, a, out) })
			}
		}
	case Key:
		for _, m := range e.modules {
			if c, ok := m.(KeyConsumer); ok {
				e.call(m, "key", a, func(out Emitter) error { return c.OnKey(ctx, a, out) })
			}
		}
	}
}

func (e *Engine) dispatchHash(ctx context.Context, queued Hash) {
	h, ok := e.hashes.load(queued.ID())
	if !ok || h.Resolved {
		// resolved while waiting, the password is already queued
		return
	}

	if e.kb != nil {
		if password, found := e.kb.Lookup(string(h.Kind), h.Hex()); found {
			if resolved, ok := e.hashes.resolve(h.ID(), password); ok {
				e.logger.Debug("hash found in knowledge base", zap.Stringer("hash", resolved))
				e.enqueuePassword(resolved, CategoryKnowledgeBase)
			}
			return
		}
	}

	for _, m := range e.modules {
		if c, ok := m.(HashConsumer); ok {
			e.call(m, "hash", h, func(out Emitter) error { return c.OnHash(ctx, h, out) })
		}
	}
}

// call runs a single callback. Its emissions are only queued if it
// succeeds, panics are treated like errors.
func (e *Engine) call(m Module, callback string, subject Artifact, fn func(out Emitter) error) {
	b := &batch{}
	if err := protect(fn, b); err != nil {
		e.failures[m.Name()]++
		e.logger.Error("module callback failed",
			zap.String("module", m.Name()),
			zap.String("callback", callback),
			zap.String("artifact", describe(subject)),
			zap.Error(err),
		)
		return
	}
	for _, a := range b.artifacts {
		e.enqueue(a, m.Name())
	}
}

func protect(fn func(out Emitter) error, out Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(out)
}

func describe(a Artifact) string {
	if a == nil {
		return ""
	}
	if s, ok := a.(fmt.Stringer); ok {
		return s.String()
	}
	return a.ID()
}

// enqueue deduplicates an artifact against the seen sets and queues it.
func (e *Engine) enqueue(artifact Artifact, source string) {
	switch a := artifact.(type) {
	case Hash:
		e.enqueueHash(a, source)
	case Password:
		if e.passwords.add(a) {
			e.queue = append(e.queue, a)
		}
	case Key:
		if e.keys.add(a) {
			e.queue = append(e.queue, a)
		}
	default:
		e.logger.Warn("dropping unknown artifact", zap.String("source", source), zap.String("type", fmt.Sprintf("%T", artifact)))
	}
}

func (e *Engine) enqueueHash(h Hash, source string) {
	if !h.Resolved {
		if e.hashes.add(h) {
			e.queue = append(e.queue, h)
		}
		return
	}

	if e.hashes.add(h) {
		e.record(h)
		e.enqueuePassword(h, CategoryCracked)
		return
	}
	if resolved, ok := e.hashes.resolve(h.ID(), h.Password); ok {
		e.record(resolved)
		e.enqueuePassword(resolved, CategoryCracked)
		return
	}
	if known, _ := e.hashes.load(h.ID()); known.Password != h.Password {
		e.logger.Warn("conflicting resolution ignored", zap.Stringer("hash", known), zap.String("source", source))
	}
}

func (e *Engine) record(h Hash) {
	if e.txn != nil {
		e.txn.Record(string(h.Kind), h.Hex(), h.Password)
	}
}

func (e *Engine) enqueuePassword(h Hash, category Category) {
	p := NewPassword(category, h.Password, fmt.Sprintf("resolved %s hash", h.Kind),
		h.Provenance.With("hash", h.ID()))
	if e.passwords.add(p) {
		e.queue = append(e.queue, p)
	}
}

func (e *Engine) result(report bool) *Result {
	r := &Result{
		Hashes:    e.hashes.values(),
		Passwords: e.passwords.values(),
		Keys:      e.keys.values(),
		Reports:   map[string]Report{},
		Failures:  map[string]int{},
	}
	for name, n := range e.failures {
		r.Failures[name] = n
	}
	if !report {
		return r
	}
	for _, m := range e.modules {
		if rep, ok := m.(Reporter); ok {
			r.Reports[m.Name()] = rep.Report()
			e.logger.Info("module report",
				zap.String("module", m.Name()),
				zap.Int("attempted", r.Reports[m.Name()].Attempted),
				zap.Int("resolved", r.Reports[m.Name()].Resolved),
			)
		}
	}
	return r
}

type batch struct {
	artifacts []Artifact
}

func (b *batch) EmitHash(h Hash)         { b.artifacts = append(b.artifacts, h) }
func (b *batch) EmitPassword(p Password) { b.artifacts = append(b.artifacts, p) }
func (b *batch) EmitKey(k Key)           { b.artifacts = append(b.artifacts, k) }
