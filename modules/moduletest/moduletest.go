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

// Package moduletest provides helpers for testing recovery modules without an
// engine.
package moduletest

import (
	"encoding/json"
	"path"
	"testing"

	"github.com/spf13/afero"

	"github.com/forensicanalysis/credrecovery"
)

// Recorder is an Emitter that keeps everything it receives.
type Recorder struct {
	Hashes    []credrecovery.Hash
	Passwords []credrecovery.Password
	Keys      []credrecovery.Key
}

// EmitHash implements credrecovery.Emitter.
func (r *Recorder) EmitHash(h credrecovery.Hash) { r.Hashes = append(r.Hashes, h) }

// EmitPassword implements credrecovery.Emitter.
func (r *Recorder) EmitPassword(p credrecovery.Password) { r.Passwords = append(r.Passwords, p) }

// EmitKey implements credrecovery.Emitter.
func (r *Recorder) EmitKey(k credrecovery.Key) { r.Keys = append(r.Keys, k) }

// Len returns the number of recorded artifacts.
func (r *Recorder) Len() int { return len(r.Hashes) + len(r.Passwords) + len(r.Keys) }

// Reset forgets all recorded artifacts.
func (r *Recorder) Reset() { *r = Recorder{} }

// PasswordValues returns the recorded password values in emission order.
func (r *Recorder) PasswordValues() []string {
	var values []string
	for _, p := range r.Passwords {
		values = append(values, p.Value)
	}
	return values
}

// WriteJSON stores v as JSON file in fs and creates missing directories.
func WriteJSON(t *testing.T, fs afero.Fs, name string, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	WriteFile(t, fs, name, b)
}

// WriteFile stores content in fs and creates missing directories.
func WriteFile(t *testing.T, fs afero.Fs, name string, content []byte) {
	t.Helper()
	if err := fs.MkdirAll(path.Dir(name), 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, name, content, 0644); err != nil {
		t.Fatal(err)
	}
}
