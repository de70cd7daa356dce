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

// Package storedcred decrypts secrets that applications and the WLAN service
// protect with DPAPI. Each secret names the master key it is sealed with.
package storedcred

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/sealed"
)

// Name of the module.
const Name = "storedcred"

// Record patterns.
const (
	CredentialPattern = "**/Credentials/*.cred.json"
	WlanPattern       = "**/Wlan/**/*.xml.json"
)

var credentialSchema = evidence.MustSchema(`{
	"type": "object",
	"required": ["masterkey", "target", "blob"],
	"properties": {
		"masterkey": {"type": "string", "minLength": 1},
		"target": {"type": "string"},
		"username": {"type": "string"},
		"blob": {"type": "object"}
	}
}`)

var wlanSchema = evidence.MustSchema(`{
	"type": "object",
	"required": ["masterkey", "ssid", "blob"],
	"properties": {
		"masterkey": {"type": "string", "minLength": 1},
		"ssid": {"type": "string"},
		"blob": {"type": "object"}
	}
}`)

// Credential is the stored form of a protected secret. Wlan profiles use
// SSID instead of Target.
type Credential struct {
	MasterKey string       `json:"masterkey"`
	Target    string       `json:"target,omitempty"`
	SSID      string       `json:"ssid,omitempty"`
	Username  string       `json:"username,omitempty"`
	Blob      *sealed.Blob `json:"blob"`
}

type secret struct {
	masterKey   string
	category    credrecovery.Category
	description string
	provenance  credrecovery.Provenance
	blob        *sealed.Blob
}

// Module holds all protected secrets until their master key shows up.
type Module struct {
	store  *evidence.Store
	logger *zap.Logger

	secrets   []*secret
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

// Discover loads credential files and wlan profiles.
func (m *Module) Discover(_ context.Context, _ credrecovery.Emitter) error {
	skip := func(name string, err error) {
		m.logger.Warn("skipping stored credential", zap.String("path", name), zap.Error(err))
	}

	credentials, err := m.store.Records(CredentialPattern, credentialSchema, skip)
	if err != nil {
		return err
	}
	for _, record := range credentials {
		target := gjson.GetBytes(record.Data, "target").String()
		provenance := credrecovery.NewProvenance("source", record.Path, "target", target)
		if username := gjson.GetBytes(record.Data, "username").String(); username != "" {
			provenance = provenance.With("username", username)
		}
		m.add(record, credrecovery.CategoryApplication, "stored credential for "+target, provenance)
	}

	profiles, err := m.store.Records(WlanPattern, wlanSchema, skip)
	if err != nil {
		return err
	}
	for _, record := range profiles {
		ssid := gjson.GetBytes(record.Data, "ssid").String()
		m.add(record, credrecovery.CategoryNetwork, "wlan key for "+ssid,
			credrecovery.NewProvenance("source", record.Path, "ssid", ssid))
	}
	return nil
}

func (m *Module) add(record evidence.Record, category credrecovery.Category, description string, provenance credrecovery.Provenance) {
	blob, err := sealed.Parse([]byte(gjson.GetBytes(record.Data, "blob").Raw))
	if err != nil {
		m.logger.Warn("skipping stored credential", zap.String("path", record.Path), zap.Error(err))
		return
	}
	masterKey := strings.ToLower(gjson.GetBytes(record.Data, "masterkey").String())
	m.secrets = append(m.secrets, &secret{
		masterKey:   masterKey,
		category:    category,
		description: description,
		provenance:  provenance.With("masterkey", masterKey),
		blob:        blob,
	})
}

// OnKey decrypts all secrets sealed with the master key.
func (m *Module) OnKey(_ context.Context, k credrecovery.Key, out credrecovery.Emitter) error {
	if k.Family != credrecovery.KeyUserMasterKey && k.Family != credrecovery.KeySystemMasterKey {
		return nil
	}
	for _, s := range m.secrets {
		if s.blob.IsDecrypted() || !strings.EqualFold(s.masterKey, k.KeyID) {
			continue
		}
		if !s.blob.DecryptWithKey(k.Value) {
			m.logger.Debug("master key does not fit", zap.String("masterkey", k.KeyID))
			continue
		}
		m.decrypted++
		out.EmitPassword(credrecovery.NewPassword(s.category, string(s.blob.PlainText()), s.description, s.provenance))
	}
	return nil
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	details := map[string]int{}
	for _, s := range m.secrets {
		details[string(s.category)]++
	}
	return credrecovery.Report{Attempted: len(m.secrets), Resolved: m.decrypted, Details: details}
}
