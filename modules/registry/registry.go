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

// Package registry extracts credentials from exported registry keys: account
// hashes from the SAM, cached domain logons, the Winlogon autologon password
// and the DPAPI_SYSTEM secret of the LSA.
//
// Keys are read from JSON files holding a list of windows-registry-key
// elements with hex encoded binary values.
package registry

import (
	"context"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/sealed"
)

// Name of the module.
const Name = "registry"

// Pattern matches registry exports.
const Pattern = "**/registry/*.json"

// DPAPISystemID is the key id of the DPAPI_SYSTEM secret.
const DPAPISystemID = "DPAPI_SYSTEM"

var schema = evidence.MustSchema(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["type", "key"],
		"properties": {
			"type": {"type": "string"},
			"key": {"type": "string"},
			"values": {
				"type": "array",
				"items": {"type": "object", "required": ["name"]}
			}
		}
	}
}`)

var (
	samUser     = regexp.MustCompile(`(?i)\\SAM\\Domains\\Account\\Users\\([0-9A-F]{8})$`)
	cache       = regexp.MustCompile(`(?i)\\SECURITY\\Cache$`)
	winlogon    = regexp.MustCompile(`(?i)\\Microsoft\\Windows NT\\CurrentVersion\\Winlogon$`)
	dpapiSystem = regexp.MustCompile(`(?i)\\SECURITY\\Policy\\Secrets\\DPAPI_SYSTEM\\(CurrVal|OldVal)$`)
	cacheEntry  = regexp.MustCompile(`(?i)^NL\$\d+$`)
)

// Key is a windows-registry-key element.
type Key struct {
	Type   string  `json:"type"`
	Key    string  `json:"key"`
	Values []Value `json:"values,omitempty"`
}

// Value is a registry value. Binary data is hex encoded.
type Value struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	DataType string `json:"data_type"`
}

// NewKey creates a windows-registry-key element.
func NewKey(key string, values ...Value) Key {
	return Key{Type: "windows-registry-key", Key: key, Values: values}
}

// Module emits everything it finds during discovery.
type Module struct {
	store  *evidence.Store
	logger *zap.Logger

	found map[string]int
}

// New creates the module.
func New(store *evidence.Store, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{store: store, logger: logger.Named(Name), found: map[string]int{}}
}

// Name implements credrecovery.Module.
func (m *Module) Name() string { return Name }

// Discover walks all exported keys.
func (m *Module) Discover(_ context.Context, out credrecovery.Emitter) error {
	records, err := m.store.Records(Pattern, schema, func(name string, err error) {
		m.logger.Warn("skipping registry export", zap.String("path", name), zap.Error(err))
	})
	if err != nil {
		return err
	}
	for _, record := range records {
		gjson.ParseBytes(record.Data).ForEach(func(_, key gjson.Result) bool {
			if key.Get("type").String() != "windows-registry-key" {
				return true
			}
			if err := m.key(record.Path, key, out); err != nil {
				m.logger.Warn("skipping registry key", zap.String("path", record.Path),
					zap.String("key", key.Get("key").String()), zap.Error(err))
			}
			return true
		})
	}
	return nil
}

func (m *Module) key(source string, key gjson.Result, out credrecovery.Emitter) error {
	name := key.Get("key").String()
	values := map[string]string{}
	key.Get("values").ForEach(func(_, value gjson.Result) bool {
		values[strings.ToLower(value.Get("name").String())] = value.Get("data").String()
		return true
	})

	switch {
	case samUser.MatchString(name):
		return m.samUser(source, samUser.FindStringSubmatch(name)[1], values, out)
	case cache.MatchString(name):
		return m.cache(source, values, out)
	case winlogon.MatchString(name):
		if password := values["defaultpassword"]; password != "" {
			m.found["autologon"]++
			out.EmitPassword(credrecovery.NewPassword(credrecovery.CategoryOperatingSystem, password,
				"winlogon autologon password",
				credrecovery.NewProvenance("source", source, "username", values["defaultusername"], "domain", values["defaultdomainname"])))
		}
	case dpapiSystem.MatchString(name):
		secret, err := hex.DecodeString(values[""])
		if err != nil || len(secret) == 0 {
			return errors.New("invalid DPAPI_SYSTEM secret")
		}
		id := DPAPISystemID
		if strings.EqualFold(dpapiSystem.FindStringSubmatch(name)[1], "OldVal") {
			id += ":old"
		}
		m.found["dpapi_system"]++
		out.EmitKey(credrecovery.NewKey(credrecovery.KeyDPAPISystem, id, secret, credrecovery.NewProvenance("source", source)))
	}
	return nil
}

func (m *Module) samUser(source, rid string, values map[string]string, out credrecovery.Emitter) error {
	ridValue, err := strconv.ParseUint(rid, 16, 32)
	if err != nil {
		return err
	}
	provenance := credrecovery.NewProvenance("source", source, "rid", strconv.FormatUint(ridValue, 10))
	if username := values["username"]; username != "" {
		provenance = provenance.With("username", username)
	}
	if sid := values["sid"]; sid != "" {
		provenance = provenance.With("account", sid)
	}

	for _, h := range []struct {
		name string
		kind credrecovery.HashKind
	}{{"nthash", credrecovery.HashNT}, {"lmhash", credrecovery.HashLM}} {
		name, kind := h.name, h.kind
		data := values[name]
		if data == "" {
			continue
		}
		digest, err := hex.DecodeString(data)
		if err != nil || len(digest) != 16 {
			return errors.Errorf("invalid %s", name)
		}
		m.found[strings.ToLower(string(kind))]++
		out.EmitHash(credrecovery.NewHash(kind, digest, provenance))
	}
	return nil
}

// cache parses cached logons. Each NL$ value holds
// "username:domain:iterations:hex digest".
func (m *Module) cache(source string, values map[string]string, out credrecovery.Emitter) error {
	var names []string
	for name := range values {
		if cacheEntry.MatchString(name) && values[name] != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data := values[name]
		parts := strings.Split(data, ":")
		if len(parts) != 4 {
			return errors.Errorf("invalid cache entry %s", name)
		}
		iterations, err := strconv.Atoi(parts[2])
		if err != nil {
			return errors.Wrapf(err, "invalid cache entry %s", name)
		}
		digest, err := hex.DecodeString(parts[3])
		if err != nil || len(digest) != 16 {
			return errors.Errorf("invalid cache entry %s", name)
		}
		kind := credrecovery.HashMSDCC2
		if iterations == 0 {
			kind = credrecovery.HashMSDCC1
		}
		m.found[strings.ToLower(string(kind))]++
		out.EmitHash(credrecovery.NewHash(kind, digest, credrecovery.NewProvenance(
			"source", source, "username", parts[0], "domain", parts[1], "iterations", strconv.Itoa(iterations))))
	}
	return nil
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	total := 0
	details := map[string]int{}
	for name, n := range m.found {
		total += n
		details[name] = n
	}
	return credrecovery.Report{Attempted: total, Resolved: total, Details: details}
}

// CacheEntry formats a cached logon value.
func CacheEntry(username, domain, password string) string {
	digest := sealed.MSDCC2(sealed.MSDCC1(sealed.NTHash(password), username), username, sealed.DefaultMSDCC2Iterations)
	return strings.Join([]string{username, domain, strconv.Itoa(sealed.DefaultMSDCC2Iterations), hex.EncodeToString(digest)}, ":")
}
