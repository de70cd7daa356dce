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

package sealed

import (
	"crypto/sha1" // #nosec
	"strings"

	"golang.org/x/crypto/md4"    // nolint:staticcheck
	"golang.org/x/crypto/pbkdf2" // nolint:staticcheck
	"golang.org/x/text/encoding/unicode"
)

// DefaultMSDCC2Iterations is the PBKDF2 round count Windows uses for cached
// domain logons unless configured otherwise.
const DefaultMSDCC2Iterations = 10240

// UTF16LE encodes s as UTF-16 little endian without byte order mark.
func UTF16LE(s string) []byte {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		// invalid UTF-8 is passed through byte wise
		b = make([]byte, 0, 2*len(s))
		for i := 0; i < len(s); i++ {
			b = append(b, s[i], 0)
		}
	}
	return b
}

// NTHash is MD4 over the UTF-16LE password.
func NTHash(password string) []byte {
	h := md4.New()
	h.Write(UTF16LE(password)) // nolint:errcheck
	return h.Sum(nil)
}

// SHA1UTF16 is SHA1 over the UTF-16LE password, the password hash used for
// local account master keys.
func SHA1UTF16(password string) []byte {
	h := sha1.New()            // #nosec
	h.Write(UTF16LE(password)) // nolint:errcheck
	return h.Sum(nil)
}

// MSDCC1 is the first generation domain cached credential.
func MSDCC1(ntHash []byte, username string) []byte {
	h := md4.New()
	h.Write(ntHash)                             // nolint:errcheck
	h.Write(UTF16LE(strings.ToLower(username))) // nolint:errcheck
	return h.Sum(nil)
}

// MSDCC2 derives the second generation domain cached credential from the
// first generation one.
func MSDCC2(msdcc1 []byte, username string, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultMSDCC2Iterations
	}
	return pbkdf2.Key(msdcc1, UTF16LE(strings.ToLower(username)), iterations, 16, sha1.New)
}
