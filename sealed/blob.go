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

// Package sealed implements the locked secrets the recovery modules work on:
// blobs sealed either under a password (hash) and a domain or under a key.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" // #nosec
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2" // nolint:staticcheck
)

// SystemDomain is the domain of blobs sealed under the system credential
// instead of an account.
const SystemDomain = "system"

// SystemSID is the account of the local system, its blobs belong to
// SystemDomain.
const SystemSID = "S-1-5-18"

// DefaultIterations is the PBKDF2 round count used when sealing.
const DefaultIterations = 8000

const keyInfo = "credrecovery sealed key"

// Mode tells how a blob is sealed.
type Mode string

// Sealing modes.
const (
	ModePassword Mode = "password"
	ModeKey      Mode = "key"
)

// Blob is a locked secret.
type Blob struct {
	Mode       Mode   `json:"mode"`
	Domain     string `json:"domain,omitempty"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations,omitempty"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`

	plain []byte
}

// Parse decodes a JSON encoded blob.
func Parse(data []byte) (*Blob, error) {
	b := &Blob{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, errors.Wrap(err, "could not decode blob")
	}
	switch b.Mode {
	case ModePassword, ModeKey:
	default:
		return nil, errors.Errorf("unknown blob mode '%s'", b.Mode)
	}
	if len(b.Salt) == 0 || len(b.Ciphertext) == 0 {
		return nil, errors.New("blob is missing salt or ciphertext")
	}
	return b, nil
}

// SealWithPasswordHash seals plaintext under a password hash and a domain.
func SealWithPasswordHash(domain string, passwordHash, plaintext []byte, iterations int) (*Blob, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	b := &Blob{Mode: ModePassword, Domain: domain, Iterations: iterations}
	if err := b.seal(passwordHash, plaintext); err != nil {
		return nil, err
	}
	return b, nil
}

// SealWithPassword seals plaintext under the SHA1-UTF16 hash of password.
func SealWithPassword(domain, password string, plaintext []byte, iterations int) (*Blob, error) {
	return SealWithPasswordHash(domain, SHA1UTF16(password), plaintext, iterations)
}

// SealWithKey seals plaintext under raw key material, e.g. a master key.
func SealWithKey(key, plaintext []byte) (*Blob, error) {
	b := &Blob{Mode: ModeKey}
	if err := b.seal(key, plaintext); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Blob) seal(credential, plaintext []byte) error {
	if len(credential) == 0 {
		return errors.New("empty credential")
	}
	b.Salt = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b.Salt); err != nil {
		return err
	}
	if b.Mode == ModeKey {
		aesKey, err := deriveKey(credential, b.Salt)
		if err != nil {
			return err
		}
		return b.encrypt(aesKey, plaintext)
	}
	return b.encrypt(b.passwordKey(credential), plaintext)
}

func (b *Blob) encrypt(aesKey, plaintext []byte) error {
	aead, err := newAEAD(aesKey)
	if err != nil {
		return err
	}
	b.Nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, b.Nonce); err != nil {
		return err
	}
	b.Ciphertext = aead.Seal(nil, b.Nonce, plaintext, []byte(b.Mode))
	return nil
}

// DecryptWithPassword tries the SHA1-UTF16 and the NT hash of password.
func (b *Blob) DecryptWithPassword(domain, password string) bool {
	if b.IsDecrypted() {
		return true
	}
	if b.Mode != ModePassword || !sameDomain(b.Domain, domain) {
		return false
	}
	return b.DecryptWithPasswordHash(domain, SHA1UTF16(password)) ||
		b.DecryptWithPasswordHash(domain, NTHash(password))
}

// DecryptWithPasswordHash decrypts a password sealed blob of the domain.
func (b *Blob) DecryptWithPasswordHash(domain string, passwordHash []byte) bool {
	if b.IsDecrypted() {
		return true
	}
	if b.Mode != ModePassword || !sameDomain(b.Domain, domain) || len(passwordHash) == 0 {
		return false
	}
	return b.open(b.passwordKey(passwordHash))
}

// DecryptWithKey decrypts a key sealed blob.
func (b *Blob) DecryptWithKey(key []byte) bool {
	if b.IsDecrypted() {
		return true
	}
	if b.Mode != ModeKey || len(key) == 0 {
		return false
	}
	aesKey, err := deriveKey(key, b.Salt)
	if err != nil {
		return false
	}
	return b.open(aesKey)
}

// IsDecrypted reports whether a decrypt call succeeded.
func (b *Blob) IsDecrypted() bool { return b.plain != nil }

// PlainText returns the decrypted content or nil.
func (b *Blob) PlainText() []byte { return b.plain }

func (b *Blob) open(aesKey []byte) bool {
	aead, err := newAEAD(aesKey)
	if err != nil || len(b.Nonce) != aead.NonceSize() {
		return false
	}
	plain, err := aead.Open(nil, b.Nonce, b.Ciphertext, []byte(b.Mode))
	if err != nil {
		return false
	}
	if plain == nil {
		plain = []byte{}
	}
	b.plain = plain
	return true
}

func (b *Blob) passwordKey(passwordHash []byte) []byte {
	mac := hmac.New(sha1.New, passwordHash)
	mac.Write(UTF16LE(strings.ToLower(NormalizeDomain(b.Domain)))) // nolint:errcheck
	return pbkdf2.Key(mac.Sum(nil), b.Salt, b.Iterations, 32, sha512.New)
}

func deriveKey(key, salt []byte) ([]byte, error) {
	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(keyInfo)), aesKey); err != nil {
		return nil, err
	}
	return aesKey, nil
}

func newAEAD(aesKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}
	return cipher.NewGCM(block)
}

// NormalizeDomain maps the local system SID to SystemDomain.
func NormalizeDomain(domain string) string {
	if strings.EqualFold(domain, SystemSID) || strings.EqualFold(domain, SystemDomain) {
		return SystemDomain
	}
	return domain
}

func sameDomain(a, b string) bool {
	return strings.EqualFold(NormalizeDomain(a), NormalizeDomain(b))
}
