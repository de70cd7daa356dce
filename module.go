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

import "context"

// Module is a pluggable recovery unit. Besides Name a module implements any
// subset of Discoverer, HashConsumer, PasswordConsumer, KeyConsumer,
// Finalizer and Reporter. Modules never share mutable state, all
// communication happens through artifacts passed by the Engine.
type Module interface {
	Name() string
}

// Emitter collects artifacts produced by a callback. Emissions of a callback
// that returns an error are discarded.
type Emitter interface {
	EmitHash(h Hash)
	EmitPassword(p Password)
	EmitKey(k Key)
}

// Discoverer performs the independent discovery run once per Run.
type Discoverer interface {
	Discover(ctx context.Context, out Emitter) error
}

// HashConsumer receives every new unresolved Hash.
type HashConsumer interface {
	OnHash(ctx context.Context, h Hash, out Emitter) error
}

// PasswordConsumer receives every new Password.
type PasswordConsumer interface {
	OnPassword(ctx context.Context, p Password, out Emitter) error
}

// KeyConsumer receives every new Key.
type KeyConsumer interface {
	OnKey(ctx context.Context, k Key, out Emitter) error
}

// Finalizer flushes artifacts a module still holds. It is called again after
// every propagation pass that its emissions caused, so it must only emit
// something once.
type Finalizer interface {
	Finalize(ctx context.Context, out Emitter) error
}

// Report summarizes the work of a module.
type Report struct {
	Attempted int            `json:"attempted"`
	Resolved  int            `json:"resolved"`
	Details   map[string]int `json:"details,omitempty"`
}

// Reporter provides summary statistics after the run.
type Reporter interface {
	Report() Report
}

// Decryptor is the cryptographic primitive collaborator wrapping one locked
// secret. Decrypt calls are idempotent: after success they return true
// without side effects, a wrong credential leaves the state unchanged.
type Decryptor interface {
	DecryptWithPassword(domain, password string) bool
	DecryptWithPasswordHash(domain string, hash []byte) bool
	DecryptWithKey(key []byte) bool
	IsDecrypted() bool
	PlainText() []byte
}

// KnowledgeBase is the cross-run hash to password store. Lookup never fails,
// backend errors are reported as not found.
type KnowledgeBase interface {
	Lookup(kind, hashHex string) (password string, found bool)
	Begin() Txn
}

// Txn collects records that become visible atomically on Commit. Record is an
// upsert.
type Txn interface {
	Record(kind, hashHex, password string)
	Len() int
	Commit() error
}
