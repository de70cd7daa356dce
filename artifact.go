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
	"encoding/hex"
	"fmt"
	"strings"
)

// HashKind is the algorithm tag of a Hash.
type HashKind string

// Hash kinds known to the bundled modules. Modules may introduce further kinds.
const (
	HashNT        HashKind = "NT"
	HashLM        HashKind = "LM"
	HashMSDCC1    HashKind = "MSDCC1"
	HashMSDCC2    HashKind = "MSDCC2"
	HashSHA1UTF16 HashKind = "SHA1-UTF16"
)

// Category classifies where a Password came from.
type Category string

// Password categories.
const (
	CategoryOperatingSystem Category = "operating-system"
	CategoryCaseSupplied    Category = "case-supplied"
	CategoryEmail           Category = "email"
	CategoryNetwork         Category = "network"
	CategoryApplication     Category = "application"
	CategoryKnowledgeBase   Category = "knowledge-base"
	CategoryCracked         Category = "cracked"
)

// categoryRank orders categories by how directly they name the password.
// Unknown categories come last.
var categoryRank = map[Category]int{
	CategoryCaseSupplied:    0,
	CategoryOperatingSystem: 1,
	CategoryApplication:     2,
	CategoryNetwork:         3,
	CategoryEmail:           4,
	CategoryKnowledgeBase:   5,
	CategoryCracked:         6,
}

func rank(c Category) int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(categoryRank)
}

// preferred reports whether a should replace b as the occurrence of a
// password.
func preferred(a, b Password) bool {
	if ra, rb := rank(a.Category), rank(b.Category); ra != rb {
		return ra < rb
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Description != b.Description {
		return a.Description < b.Description
	}
	return a.Provenance.String() < b.Provenance.String()
}

// KeyFamily groups Keys by what they unlock.
type KeyFamily string

// Key families.
const (
	KeyUserMasterKey   KeyFamily = "user-master-key"
	KeySystemMasterKey KeyFamily = "system-master-key"
	KeyDPAPISystem     KeyFamily = "dpapi-system"
)

// Attribute is a single provenance entry.
type Attribute struct {
	Name  string
	Value string
}

// Provenance is ordered key/value metadata describing where an artifact was
// found. Order is kept as emitted.
type Provenance []Attribute

// NewProvenance builds a Provenance from name/value pairs. A trailing name
// without value is dropped.
func NewProvenance(pairs ...string) Provenance {
	p := make(Provenance, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		p = append(p, Attribute{Name: pairs[i], Value: pairs[i+1]})
	}
	return p
}

// Get returns the first value stored under name.
func (p Provenance) Get(name string) (string, bool) {
	for _, a := range p {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// With returns a copy of p with an additional attribute.
func (p Provenance) With(name, value string) Provenance {
	c := make(Provenance, len(p), len(p)+1)
	copy(c, p)
	return append(c, Attribute{Name: name, Value: value})
}

// Map converts the provenance into a map; later duplicates are ignored.
func (p Provenance) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(p))
	for _, a := range p {
		if _, ok := m[a.Name]; !ok {
			m[a.Name] = a.Value
		}
	}
	return m
}

func (p Provenance) String() string {
	parts := make([]string, 0, len(p))
	for _, a := range p {
		parts = append(parts, a.Name+"="+a.Value)
	}
	return strings.Join(parts, ",")
}

// Artifact is a Hash, Password or Key exchanged between modules.
type Artifact interface {
	// ID identifies the artifact within one run. Two artifacts with the same
	// ID are the same logical artifact.
	ID() string
	isArtifact()
}

// Hash is a digest found on disk.
type Hash struct {
	Kind  HashKind
	Value []byte
	// Password is set once the hash is resolved.
	Password   string
	Resolved   bool
	Provenance Provenance
}

// NewHash creates an unresolved Hash.
func NewHash(kind HashKind, value []byte, provenance Provenance) Hash {
	return Hash{Kind: kind, Value: value, Provenance: provenance}
}

// Hex returns the lowercase hex encoding of the digest.
func (h Hash) Hex() string { return hex.EncodeToString(h.Value) }

// ID is kind and hex value.
func (h Hash) ID() string { return hashID(h.Kind, h.Hex()) }

// WithPassword returns a resolved copy of h.
func (h Hash) WithPassword(password string) Hash {
	h.Password = password
	h.Resolved = true
	return h
}

func (h Hash) String() string {
	if h.Resolved {
		return fmt.Sprintf("hash %s:%s (resolved)", h.Kind, h.Hex())
	}
	return fmt.Sprintf("hash %s:%s", h.Kind, h.Hex())
}

func (Hash) isArtifact() {}

func hashID(kind HashKind, hexValue string) string {
	return "hash:" + string(kind) + ":" + strings.ToLower(hexValue)
}

// Password is a candidate or confirmed plaintext secret. Identity is the value
// alone. Of several occurrences the one with the most direct category is kept.
type Password struct {
	Category    Category
	Value       string
	Description string
	Provenance  Provenance
}

// NewPassword creates a Password.
func NewPassword(category Category, value, description string, provenance Provenance) Password {
	return Password{Category: category, Value: value, Description: description, Provenance: provenance}
}

// ID is derived from the value.
func (p Password) ID() string { return "password:" + hex.EncodeToString([]byte(p.Value)) }

func (p Password) String() string {
	return fmt.Sprintf("password (%s, %d bytes)", p.Category, len(p.Value))
}

func (Password) isArtifact() {}

// Key is decrypted key material. Identity is family and id.
type Key struct {
	Family     KeyFamily
	KeyID      string
	Value      []byte
	Provenance Provenance
}

// NewKey creates a Key.
func NewKey(family KeyFamily, id string, value []byte, provenance Provenance) Key {
	return Key{Family: family, KeyID: id, Value: value, Provenance: provenance}
}

// ID is family and lowercase key id.
func (k Key) ID() string { return "key:" + string(k.Family) + ":" + strings.ToLower(k.KeyID) }

func (k Key) String() string { return fmt.Sprintf("key %s:%s", k.Family, k.KeyID) }

func (Key) isArtifact() {}
