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

// Package hashtest resolves hashes by testing every known password against
// them. Candidate passwords come from the run itself and from an optional
// word list, e.g. passwords of earlier cases.
package hashtest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/sealed"
)

// Name of the module.
const Name = "hashtest"

// Module keeps all unresolved hashes and all passwords it has seen. Whatever
// arrives later is tested against the other side.
type Module struct {
	logger *zap.Logger

	pending    []credrecovery.Hash
	passwords  []string
	candidates []string

	attempted int
	resolved  int
	skipped   map[credrecovery.HashKind]int
}

// New creates the module.
func New(logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{logger: logger.Named(Name), skipped: map[credrecovery.HashKind]int{}}
}

// Name implements credrecovery.Module.
func (m *Module) Name() string { return Name }

// AddCandidates reads a word list, one password per line. Candidates are
// only used to test hashes and are not emitted as passwords on their own.
func (m *Module) AddCandidates(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			m.candidates = append(m.candidates, line)
		}
	}
	return errors.Wrap(scanner.Err(), "could not read candidates")
}

// Supported reports whether hashes of kind can be tested.
func Supported(kind credrecovery.HashKind) bool {
	switch kind {
	case credrecovery.HashNT, credrecovery.HashSHA1UTF16, credrecovery.HashMSDCC1, credrecovery.HashMSDCC2:
		return true
	}
	return false
}

// OnHash tests a new hash against all passwords seen so far and keeps it if
// none fits.
func (m *Module) OnHash(_ context.Context, h credrecovery.Hash, out credrecovery.Emitter) error {
	if !Supported(h.Kind) {
		m.skipped[h.Kind]++
		return nil
	}
	if _, _, err := cacheParams(h); err != nil {
		m.logger.Warn("dropping hash", zap.Stringer("hash", h), zap.Error(err))
		return nil
	}
	m.attempted++

	for _, list := range [][]string{m.passwords, m.candidates} {
		for _, password := range list {
			ok, err := Test(h, password)
			if err != nil {
				m.logger.Warn("dropping hash", zap.Stringer("hash", h), zap.Error(err))
				return nil
			}
			if ok {
				m.found(h, password, out)
				return nil
			}
		}
	}
	m.pending = append(m.pending, h)
	return nil
}

// OnPassword tests a new password against all pending hashes.
func (m *Module) OnPassword(_ context.Context, p credrecovery.Password, out credrecovery.Emitter) error {
	m.passwords = append(m.passwords, p.Value)

	pending := m.pending[:0]
	for _, h := range m.pending {
		ok, err := Test(h, p.Value)
		if err != nil {
			m.logger.Warn("dropping hash", zap.Stringer("hash", h), zap.Error(err))
			continue
		}
		if ok {
			m.found(h, p.Value, out)
			continue
		}
		pending = append(pending, h)
	}
	m.pending = pending
	return nil
}

func (m *Module) found(h credrecovery.Hash, password string, out credrecovery.Emitter) {
	m.resolved++
	m.logger.Debug("hash resolved", zap.Stringer("hash", h))
	out.EmitHash(h.WithPassword(password))
}

// Report implements credrecovery.Reporter.
func (m *Module) Report() credrecovery.Report {
	details := map[string]int{"pending": len(m.pending)}
	for kind, n := range m.skipped {
		details["unsupported_"+strings.ToLower(string(kind))] = n
	}
	return credrecovery.Report{Attempted: m.attempted, Resolved: m.resolved, Details: details}
}

// Test reports whether password produces the hash. Domain cached hashes need
// the username in their provenance, MSDCC2 additionally the iteration count.
func Test(h credrecovery.Hash, password string) (bool, error) {
	var digest []byte
	switch h.Kind {
	case credrecovery.HashNT:
		digest = sealed.NTHash(password)
	case credrecovery.HashSHA1UTF16:
		digest = sealed.SHA1UTF16(password)
	case credrecovery.HashMSDCC1, credrecovery.HashMSDCC2:
		username, iterations, err := cacheParams(h)
		if err != nil {
			return false, err
		}
		digest = sealed.MSDCC1(sealed.NTHash(password), username)
		if h.Kind == credrecovery.HashMSDCC2 {
			digest = sealed.MSDCC2(digest, username, iterations)
		}
	default:
		return false, errors.Errorf("unsupported hash kind %s", h.Kind)
	}
	return bytes.Equal(digest, h.Value), nil
}

// cacheParams returns username and iteration count of domain cached hashes.
func cacheParams(h credrecovery.Hash) (username string, iterations int, err error) {
	if h.Kind != credrecovery.HashMSDCC1 && h.Kind != credrecovery.HashMSDCC2 {
		return "", 0, nil
	}
	username, _ = h.Provenance.Get("username")
	if username == "" {
		return "", 0, errors.Errorf("%s needs a username", h.Kind)
	}
	iterations = sealed.DefaultMSDCC2Iterations
	if s, ok := h.Provenance.Get("iterations"); ok {
		if iterations, err = strconv.Atoi(s); err != nil {
			return "", 0, errors.Wrap(err, "invalid iterations")
		}
	}
	return username, iterations, nil
}
