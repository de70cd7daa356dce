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

// Package hashchain decrypts credential history chains. Every entry of a
// chain holds the hashes of a previous password of the account and is sealed
// under the hash of the password that replaced it. Unlocking the newest entry
// therefore yields the key material for the next older one.
package hashchain

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/sealed"
)

// Name of the module.
const Name = "hashchain"

// Pattern matches credential history records.
const Pattern = "**/CREDHIST.json"

const (
	sha1Len = 20
	ntLen   = 16
)

var schema = evidence.MustSchema(`{
	"type": "object",
	"required": ["account", "entries"],
	"properties": {
		"account": {"type": "string", "minLength": 1},
		"entries": {
			"type": "array",
			"items": {"type": "object", "required": ["blob"]}
		}
	}
}`)

type entry struct {
	account string
	source  string
	index   int
	blob    *sealed.Blob
}

// Module holds the locked entries of all chains.
type Module struct {
	store  *evidence.Store
	logger *zap.Logger

	entries   []*entry
	decrypted int
}

// New creates the module.
func New(store *evidence.Store, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{store: store, logger: logger.Named(Name)}
}

// Name implements credrecovery.Module.
func (m *Module) Name() string { return Name }

// Discover loads all chains. Entries are stored newest first.
func (m *Module) Discover(_ context.Context, _ credrecovery.Emitter) error {
	records, err := m.store.Records(Pattern, schema, func(name string, err error) {
		m.logger.Warn("skipping credential history", zap.String("path", name), zap.Error(err))
	})
	if err != nil {
		return err
	}
	for _, record := range records {
		account := gjson.GetBytes(record.Data, "account").String()
		gjson.GetBytes(record.Data, "entries").ForEach(func(key, value gjson.Result) bool {
			blob, err := sealed.Parse([]byte(value.Get("blob").Raw))
			if err != nil {
				m.logger.Warn("skipping credential history entry",
					zap.String("path", record.Path), zap.Int64("index", key.Int()), zap.Error(err))
				return true
			}
			m.entries = append(m.entries, &entry{account: account, source: record.Path, index: int(key.Int()), blob: blob})
			return true
		})
	}
	return nil
}

// OnPassword tries the password on every locked entry of its account.
func (m *Module) OnPassword(_ context.Context, p credrecovery.Password, out credrecovery.Emitter) error {
	for _, e := range m.entries {
		if !e.blob.IsDecrypted() && e.blob.DecryptWithPassword(e.account, p.Value) {
			m.unlocked(e, out)
		}
	}
	return nil
}

// OnHash tries SHA1-UTF16 and NT hashes on every locked entry.
func (m *Module) OnHash(_ context.Context, h credrecovery.Hash, out credrecovery.Emitter) error {
	if h.Kind != credrecovery.HashSHA1UTF16 && h.Kind != credrecovery.HashNT {
		return nil
	}
	for _, e := range m.entries {
		if !e.blob.IsDecrypted() && e.blob.DecryptWithPasswordHash(e.account, h.Value) {
			m.unlocked(e, out)
		}
	}
	return nil
}

func (m *Module) unlocked(e *entry, out credrecovery.Emitter) {
	plain := e.blob.PlainText()
	if len(plain) < sha1Len+ntLen {
		m.logger.Warn("credential history entry too short",
			zap.String("path", e.source), zap.Int("index", e.index), zap.Int("size", len(plain)))
		return
	}
	m.decrypted++

	provenance := credrecovery.NewProvenance("account", e.account, "source", e.source, "index", strconv.Itoa(e.index))
	out.EmitHash(credrecovery.NewHash(credrecovery.HashSHA1UTF16, copyBytes(plain[:sha1Len]), provenance))
	out.EmitHash(credrecovery.NewHash(credrecovery.HashNT, copyBytes(plain[sha1Len:sha1Len+ntLen]), provenance))
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	return credrecovery.Report{Attempted: len(m.entries), Resolved: m.decrypted}
}

// Record is the stored form of a chain.
type Record struct {
	Account string        `json:"account"`
	Entries []RecordEntry `json:"entries"`
}

// RecordEntry is a single sealed chain entry.
type RecordEntry struct {
	Blob *sealed.Blob `json:"blob"`
}

// NewRecord seals a chain for passwords given newest first. The first
// password is the current one, every following password becomes an entry
// sealed under its successor.
func NewRecord(account string, iterations int, passwords ...string) (*Record, error) {
	r := &Record{Account: account, Entries: []RecordEntry{}}
	for i := 1; i < len(passwords); i++ {
		blob, err := sealed.SealWithPassword(account, passwords[i-1], entryPlainText(passwords[i]), iterations)
		if err != nil {
			return nil, err
		}
		r.Entries = append(r.Entries, RecordEntry{Blob: blob})
	}
	return r, nil
}

func entryPlainText(password string) []byte {
	return append(sealed.SHA1UTF16(password), sealed.NTHash(password)...)
}
