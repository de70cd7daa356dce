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

// Package credrecovery propagates recovered credentials between recovery
// modules until no module can unlock anything new.
//
// # Artifacts
//
// Three kinds of artifacts are exchanged:
//   - Hash: a digest found on disk, identified by kind and value, optionally resolved to a password.
//   - Password: a plaintext secret, identified by its value.
//   - Key: decrypted key material, identified by family and id (e.g. a master key GUID).
//
// # Run
//
// A run walks through the states init, discovering, propagating, finalizing
// and done. Every module first discovers artifacts on its own, afterwards
// every new artifact is handed to all interested modules, which may emit
// further artifacts. Hashes are looked up in the knowledge base before they
// are dispatched, newly resolved hashes are written to it when the run ends.
//
// # Usage
//
//	engine := credrecovery.New(credrecovery.WithKnowledgeBase(kb), credrecovery.WithLogger(logger))
//	engine.Register(masterkey.New(store, logger), storedcred.New(store, logger), hashtest.New(logger))
//	engine.Seed(credrecovery.NewPassword(credrecovery.CategoryCaseSupplied, "Summer2023!", "case note", nil))
//	result, err := engine.Run(ctx)
package credrecovery
