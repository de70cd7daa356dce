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

// Result holds the final artifact sets of a run, each sorted by identity.
type Result struct {
	Hashes    []Hash
	Passwords []Password
	Keys      []Key
	// Reports by module name.
	Reports map[string]Report
	// Failures counts failed callbacks by module name.
	Failures map[string]int
}

// Resolved returns the hashes with a known password.
func (r *Result) Resolved() []Hash {
	var resolved []Hash
	for _, h := range r.Hashes {
		if h.Resolved {
			resolved = append(resolved, h)
		}
	}
	return resolved
}

// HasPassword reports whether value is among the recovered passwords.
func (r *Result) HasPassword(value string) bool {
	for _, p := range r.Passwords {
		if p.Value == value {
			return true
		}
	}
	return false
}

// Key returns the key with the given family and id.
func (r *Result) Key(family KeyFamily, id string) (Key, bool) {
	want := Key{Family: family, KeyID: id}.ID()
	for _, k := range r.Keys {
		if k.ID() == want {
			return k, true
		}
	}
	return Key{}, false
}

// Fingerprint lists the identities of all artifacts and the resolution of
// every hash. Two runs over the same input yield the same fingerprint.
func (r *Result) Fingerprint() []string {
	fp := make([]string, 0, len(r.Hashes)+len(r.Passwords)+len(r.Keys))
	for _, h := range r.Hashes {
		if h.Resolved {
			fp = append(fp, h.ID()+"="+Password{Value: h.Password}.ID())
		} else {
			fp = append(fp, h.ID())
		}
	}
	for _, p := range r.Passwords {
		fp = append(fp, p.ID())
	}
	for _, k := range r.Keys {
		fp = append(fp, k.ID())
	}
	return fp
}
