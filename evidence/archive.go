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

package evidence

import (
	"bytes"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const sqlarTable = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// OpenArchive loads a sqlar archive into memory. Entries whose stored size
// differs from sz are zlib compressed, entries without data are directories.
func OpenArchive(url string) (afero.Fs, error) {
	conn, err := sqlite.OpenConn(url, sqlite.SQLITE_OPEN_READONLY)
	if err != nil {
		return nil, errors.Wrap(err, "could not open archive")
	}
	defer conn.Close()

	stmt, err := conn.Prepare("SELECT name, mode, mtime, sz, data FROM sqlar")
	if err != nil {
		return nil, errors.Wrap(err, "not a sqlar archive")
	}
	defer stmt.Finalize() // nolint:errcheck

	fs := afero.NewMemMapFs()
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}

		name := normalizeName(stmt.GetText("name"))
		if name == "" {
			continue
		}
		mode := os.FileMode(stmt.GetInt64("mode"))
		mtime := time.Unix(stmt.GetInt64("mtime"), 0)
		size := stmt.GetInt64("sz")

		if stmt.ColumnType(4) == sqlite.SQLITE_NULL {
			if err := fs.MkdirAll(name, 0755); err != nil {
				return nil, err
			}
			continue
		}

		data := make([]byte, stmt.GetLen("data"))
		stmt.GetBytes("data", data)
		content, err := inflate(data, size)
		if err != nil {
			return nil, errors.Wrap(err, "could not read "+name)
		}

		if err := fs.MkdirAll(path.Dir(name), 0755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fs, name, content, mode.Perm()|0400); err != nil {
			return nil, err
		}
		_ = fs.Chtimes(name, mtime, mtime)
	}
	return fs, nil
}

// WriteArchive stores the files of a filesystem in a new sqlar archive.
func WriteArchive(url string, src afero.Fs) (err error) {
	conn, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return errors.Wrap(err, "could not create archive")
	}
	defer func() {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}()

	stmt := conn.Prep(sqlarTable)
	if _, err := stmt.Step(); err != nil {
		return err
	}
	if err := stmt.Finalize(); err != nil {
		return err
	}

	return afero.Walk(src, "", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name = normalizeName(name)
		if name == "" {
			return nil
		}

		insert := conn.Prep("INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, $sz, $data)")
		insert.SetText("$name", name)
		insert.SetInt64("$mode", int64(info.Mode()))
		insert.SetInt64("$mtime", info.ModTime().Unix())
		if info.IsDir() {
			insert.SetInt64("$sz", 0)
			insert.SetNull("$data")
		} else {
			content, err := afero.ReadFile(src, name)
			if err != nil {
				return err
			}
			insert.SetInt64("$sz", int64(len(content)))
			if len(content) == 0 {
				insert.SetZeroBlob("$data", 0)
			} else {
				insert.SetBytes("$data", deflate(content))
			}
		}
		_, err = insert.Step()
		if rerr := insert.Reset(); err == nil {
			err = rerr
		}
		return err
	})
}

func inflate(data []byte, size int64) ([]byte, error) {
	if int64(len(data)) == size {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) != size {
		return nil, errors.Errorf("size mismatch, got %d bytes, want %d", len(content), size)
	}
	return content, nil
}

// deflate compresses like sqlar does, incompressible content is stored raw.
func deflate(content []byte) []byte {
	buf := &bytes.Buffer{}
	w := zlib.NewWriter(buf)
	w.Write(content) // nolint:errcheck
	w.Close()        // nolint:errcheck
	if buf.Len() >= len(content) {
		return content
	}
	return buf.Bytes()
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}
