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

// Package casenotes supplies the passwords known to the examiner: passwords
// configured for the case and passwords written down in case notes.
package casenotes

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/evidence"
)

// Name of the module.
const Name = "casenotes"

// DefaultPattern matches case notes.
const DefaultPattern = "**/*notes*.txt"

var passwordLine = regexp.MustCompile(`(?im)^[ \t]*(?:password|passwort|kennwort|pw)[ \t]*[:=][ \t]*(.*?)[ \t]*\r?$`)

// Module emits case passwords during discovery.
type Module struct {
	store     *evidence.Store
	logger    *zap.Logger
	pattern   string
	passwords []string

	found int
}

// New creates the module. Notes are searched with pattern, an empty pattern
// uses DefaultPattern. A nil store only emits the given passwords.
func New(store *evidence.Store, pattern string, passwords []string, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Module{store: store, logger: logger.Named(Name), pattern: pattern, passwords: passwords}
}

// Name implements credrecovery.Module.
func (m *Module) Name() string { return Name }

// Discover emits the configured passwords and every "password: x" line of
// the case notes.
func (m *Module) Discover(_ context.Context, out credrecovery.Emitter) error {
	for _, password := range m.passwords {
		m.emit(out, password, "configured case password", credrecovery.NewProvenance("source", "configuration"))
	}
	if m.store == nil {
		return nil
	}

	records, err := m.store.Records(m.pattern, nil, func(name string, err error) {
		m.logger.Warn("skipping case notes", zap.String("path", name), zap.Error(err))
	})
	if err != nil {
		return err
	}
	for _, record := range records {
		for _, match := range Parse(string(record.Data)) {
			m.emit(out, match.Password, "password from case notes",
				credrecovery.NewProvenance("source", record.Path, "line", strconv.Itoa(match.Line)))
		}
	}
	return nil
}

func (m *Module) emit(out credrecovery.Emitter, password, description string, provenance credrecovery.Provenance) {
	if password == "" {
		return
	}
	m.found++
	out.EmitPassword(credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, password, description, provenance))
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	return credrecovery.Report{Attempted: m.found, Resolved: m.found}
}

// Match is a password found in a note.
type Match struct {
	Password string
	Line     int
}

// Parse returns the passwords of all password lines in text. Line numbers
// start at 1.
func Parse(text string) []Match {
	var matches []Match
	for _, loc := range passwordLine.FindAllStringSubmatchIndex(text, -1) {
		password := text[loc[2]:loc[3]]
		if password == "" {
			continue
		}
		matches = append(matches, Match{Password: password, Line: strings.Count(text[:loc[0]], "\n") + 1})
	}
	return matches
}
