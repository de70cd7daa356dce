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

// Package masterkey unlocks DPAPI master keys. User master keys are sealed
// under the password of their account, system master keys under the
// DPAPI_SYSTEM secret of the LSA.
package masterkey

import (
	"context"
	"path"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/sealed"
)

// Name of the module.
const Name = "masterkey"

// Pattern matches master key records.
const Pattern = "**/Protect/**/*.mk.json"

var schema = evidence.MustSchema(`{
	"type": "object",
	"required": ["guid", "blob"],
	"properties": {
		"guid": {"type": "string", "minLength": 1},
		"domain": {"type": "string"},
		"blob": {"type": "object"}
	}
}`)

type masterKey struct {
	guid   string
	domain string
	path   string
	blob   *sealed.Blob
}

func (mk *masterKey) system() bool {
	return mk.domain == sealed.SystemDomain
}

// Module holds all master keys found in the evidence.
type Module struct {
	store  *evidence.Store
	logger *zap.Logger

	keys      []*masterKey
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

// Discover loads the master key records. The domain is taken from the record
// or from the name of the SID directory the record is stored in.
func (m *Module) Discover(_ context.Context, _ credrecovery.Emitter) error {
	records, err := m.store.Records(Pattern, schema, func(name string, err error) {
		m.logger.Warn("skipping master key", zap.String("path", name), zap.Error(err))
	})
	if err != nil {
		return err
	}
	for _, record := range records {
		blob, err := sealed.Parse([]byte(gjson.GetBytes(record.Data, "blob").Raw))
		if err != nil {
			m.logger.Warn("skipping master key", zap.String("path", record.Path), zap.Error(err))
			continue
		}
		domain := gjson.GetBytes(record.Data, "domain").String()
		if domain == "" {
			domain = sidFromPath(record.Path)
		}
		domain = sealed.NormalizeDomain(domain)
		if domain == "" {
			m.logger.Warn("skipping master key", zap.String("path", record.Path), zap.String("error", "unknown domain"))
			continue
		}
		m.keys = append(m.keys, &masterKey{
			guid:   strings.ToLower(gjson.GetBytes(record.Data, "guid").String()),
			domain: domain,
			path:   record.Path,
			blob:   blob,
		})
	}
	m.logger.Debug("master keys loaded", zap.Int("count", len(m.keys)))
	return nil
}

// sidFromPath returns the innermost directory named like a SID.
func sidFromPath(name string) string {
	parts := strings.Split(path.Dir(name), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.ToUpper(parts[i]), "S-1-") {
			return parts[i]
		}
	}
	return ""
}

// OnPassword tries the password on all locked user master keys.
func (m *Module) OnPassword(_ context.Context, p credrecovery.Password, out credrecovery.Emitter) error {
	for _, mk := range m.keys {
		if mk.blob.IsDecrypted() || mk.system() {
			continue
		}
		if mk.blob.DecryptWithPassword(mk.domain, p.Value) {
			m.unlocked(mk, out)
		}
	}
	return nil
}

// OnHash tries SHA1-UTF16 and NT hashes on all locked user master keys. The
// account in the provenance is not used, the same hash may belong to several
// accounts and only the first occurrence reaches the module.
func (m *Module) OnHash(_ context.Context, h credrecovery.Hash, out credrecovery.Emitter) error {
	if h.Kind != credrecovery.HashSHA1UTF16 && h.Kind != credrecovery.HashNT {
		return nil
	}
	for _, mk := range m.keys {
		if mk.blob.IsDecrypted() || mk.system() {
			continue
		}
		if mk.blob.DecryptWithPasswordHash(mk.domain, h.Value) {
			m.unlocked(mk, out)
		}
	}
	return nil
}

// OnKey unlocks system master keys with the DPAPI_SYSTEM secret.
func (m *Module) OnKey(_ context.Context, k credrecovery.Key, out credrecovery.Emitter) error {
	if k.Family != credrecovery.KeyDPAPISystem {
		return nil
	}
	for _, mk := range m.keys {
		if mk.blob.IsDecrypted() || !mk.system() {
			continue
		}
		if mk.blob.DecryptWithPasswordHash(sealed.SystemDomain, k.Value) {
			m.unlocked(mk, out)
		}
	}
	return nil
}

func (m *Module) unlocked(mk *masterKey, out credrecovery.Emitter) {
	m.decrypted++
	family := credrecovery.KeyUserMasterKey
	if mk.system() {
		family = credrecovery.KeySystemMasterKey
	}
	m.logger.Debug("master key decrypted", zap.String("guid", mk.guid), zap.String("domain", mk.domain))
	out.EmitKey(credrecovery.NewKey(family, mk.guid, mk.blob.PlainText(),
		credrecovery.NewProvenance("source", mk.path, "domain", mk.domain)))
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	system := 0
	for _, mk := range m.keys {
		if mk.system() {
			system++
		}
	}
	return credrecovery.Report{
		Attempted: len(m.keys),
		Resolved:  m.decrypted,
		Details:   map[string]int{"system": system, "user": len(m.keys) - system},
	}
}
