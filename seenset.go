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
	"sort"
	"sync"
)

// The seen sets are only written by the Engine goroutine, the locks allow
// Stats to be read while a run is in progress.

type hashSet struct {
	sync.RWMutex
	internal map[string]Hash
	resolved int
}

func newHashSet() *hashSet {
	return &hashSet{internal: map[string]Hash{}}
}

func (hs *hashSet) load(id string) (Hash, bool) {
	hs.RLock()
	h, ok := hs.internal[id]
	hs.RUnlock()
	return h, ok
}

// add stores h if its id is unknown and reports whether it was added.
func (hs *hashSet) add(h Hash) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.internal[h.ID()]; ok {
		return false
	}
	hs.internal[h.ID()] = h
	if h.Resolved {
		hs.resolved++
	}
	return true
}

// resolve attaches a password to a known unresolved hash. The first
// resolution wins.
func (hs *hashSet) resolve(id, password string) (Hash, bool) {
	hs.Lock()
	defer hs.Unlock()
	h, ok := hs.internal[id]
	if !ok || h.Resolved {
		return h, false
	}
	h = h.WithPassword(password)
	hs.internal[id] = h
	hs.resolved++
	return h, true
}

func (hs *hashSet) counts() (total, resolved int) {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.internal), hs.resolved
}

func (hs *hashSet) values() []Hash {
	hs.RLock()
	values := make([]Hash, 0, len(hs.internal))
	for _, h := range hs.internal {
		values = append(values, h)
	}
	hs.RUnlock()
	sort.Slice(values, func(i, j int) bool { return values[i].ID() < values[j].ID() })
	return values
}

type passwordSet struct {
	sync.RWMutex
	internal map[string]Password
}

func newPasswordSet() *passwordSet {
	return &passwordSet{internal: map[string]Password{}}
}

// add stores p if its value is unknown and reports whether it was added. For
// a known value the metadata of the preferred occurrence is kept, so the
// stored category does not depend on arrival order.
func (ps *passwordSet) add(p Password) bool {
	ps.Lock()
	defer ps.Unlock()
	known, ok := ps.internal[p.ID()]
	if !ok {
		ps.internal[p.ID()] = p
		return true
	}
	if preferred(p, known) {
		ps.internal[p.ID()] = p
	}
	return false
}

func (ps *passwordSet) len() int {
	ps.RLock()
	defer ps.RUnlock()
	return len(ps.internal)
}

func (ps *passwordSet) values() []Password {
	ps.RLock()
	values := make([]Password, 0, len(ps.internal))
	for _, p := range ps.internal {
		values = append(values, p)
	}
	ps.RUnlock()
	sort.Slice(values, func(i, j int) bool { return values[i].Value < values[j].Value })
	return values
}

type keySet struct {
	sync.RWMutex
	internal map[string]Key
}

func newKeySet() *keySet {
	return &keySet{internal: map[string]Key{}}
}

func (ks *keySet) add(k Key) bool {
	ks.Lock()
	defer ks.Unlock()
	if _, ok := ks.internal[k.ID()]; ok {
		return false
	}
	ks.internal[k.ID()] = k
	return true
}

func (ks *keySet) len() int {
	ks.RLock()
	defer ks.RUnlock()
	return len(ks.internal)
}

func (ks *keySet) values() []Key {
	ks.RLock()
	values := make([]Key, 0, len(ks.internal))
	for _, k := range ks.internal {
		values = append(values, k)
	}
	ks.RUnlock()
	sort.Slice(values, func(i, j int) bool { return values[i].ID() < values[j].ID() })
	return values
}
