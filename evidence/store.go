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

// Package evidence gives recovery modules read access to the files of a case.
// Evidence is either a directory of extracted files or a sqlar archive.
package evidence

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/forensicanalysis/fsdoublestar"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Store is a read-only view on the evidence of a case. Paths are slash
// separated and relative to the evidence root.
type Store struct {
	fs afero.Fs
}

// New wraps a filesystem, writes are rejected.
func New(fs afero.Fs) *Store {
	return &Store{fs: afero.NewReadOnlyFs(fs)}
}

// Open opens a directory or a sqlar archive file.
func Open(url string) (*Store, error) {
	info, err := os.Stat(url)
	if err != nil {
		return nil, errors.Wrap(err, "could not open evidence")
	}
	if info.IsDir() {
		return New(afero.NewBasePathFs(afero.NewOsFs(), url)), nil
	}
	fs, err := OpenArchive(url)
	if err != nil {
		return nil, err
	}
	return New(fs), nil
}

// Fs returns the underlying read-only filesystem.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// maxDepth bounds how many directories a ** matches. fsdoublestar only
// descends three levels for a bare **.
const maxDepth = 64

// Glob returns the sorted names matching a pattern which may contain ** to
// match any number of directories.
func (s *Store) Glob(pattern string) ([]string, error) {
	names, err := fsdoublestar.Glob(afero.NewIOFS(s.fs), expandDoubleStar(pattern))
	if err != nil {
		return nil, errors.Wrap(err, "glob "+pattern)
	}
	var files []string
	for _, name := range names {
		info, err := s.fs.Stat(name)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// expandDoubleStar gives every bare ** component an explicit depth.
func expandDoubleStar(pattern string) string {
	components := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	for i, component := range components {
		if component == "**" {
			components[i] = "**" + strconv.Itoa(maxDepth)
		}
	}
	return strings.Join(components, "/")
}

// ReadFile returns the content of a file.
func (s *Store) ReadFile(name string) ([]byte, error) {
	name = path.Clean("/" + name)[1:]
	if name == "" || !fs.ValidPath(name) {
		return nil, errors.Errorf("invalid path %q", name)
	}
	return afero.ReadFile(s.fs, name)
}

// Record is the content of a single evidence file.
type Record struct {
	Path string
	Data []byte
}

// Records reads all files matching pattern. Files that cannot be read or do
// not conform to schema are passed to skip and left out. A nil schema
// accepts everything.
func (s *Store) Records(pattern string, schema *Schema, skip func(name string, err error)) ([]Record, error) {
	names, err := s.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, name := range names {
		data, err := s.ReadFile(name)
		if err == nil && schema != nil {
			err = schema.Validate(data)
		}
		if err != nil {
			if skip != nil {
				skip(name, err)
			}
			continue
		}
		records = append(records, Record{Path: name, Data: data})
	}
	return records, nil
}
