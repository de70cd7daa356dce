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

// Package knowledgebase persists resolved hashes across runs. Lookups never
// fail: backend errors are logged and reported as not found. Records are
// collected in a transaction and written atomically on commit.
package knowledgebase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
)

const knowledgeBaseVersion = 1
const knowledgeBaseApplicationID = 1801610082

const schema = "CREATE TABLE IF NOT EXISTS `passwords` (" +
	"kind TEXT NOT NULL, hash TEXT NOT NULL, password TEXT NOT NULL, insert_time TEXT, " +
	"PRIMARY KEY (kind, hash))"

const upsert = "INSERT INTO `passwords` (kind, hash, password, insert_time) VALUES (?, ?, ?, ?) " +
	"ON CONFLICT(kind, hash) DO UPDATE SET password = excluded.password, insert_time = excluded.insert_time"

// ErrForeignFile is returned when a database does not belong to a knowledge base.
var ErrForeignFile = errors.New("not a knowledge base")

// Option configures a knowledge base.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger for failed lookups.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SQLite is a knowledge base in a single sqlite file.
type SQLite struct {
	conn   *sqlite.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

var _ credrecovery.KnowledgeBase = (*SQLite)(nil)

// OpenSQLite opens or creates a knowledge base. The url ":memory:" creates a
// database that is gone after Close.
func OpenSQLite(url string, opts ...Option) (*SQLite, error) {
	o := newOptions(opts)

	if url != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(url), 0750); err != nil {
			return nil, err
		}
	}

	conn, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, errors.Wrap(err, "could not open knowledge base")
	}
	kb := &SQLite{conn: conn, logger: o.logger}

	if err := kb.setup(); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return kb, nil
}

func (kb *SQLite) setup() error {
	applicationID, err := pragma(kb.conn, "application_id")
	if err != nil {
		return err
	}
	version, err := pragma(kb.conn, "user_version")
	if err != nil {
		return err
	}

	if applicationID == 0 && version == 0 {
		tables := 0
		err = sqlitex.Exec(kb.conn, "SELECT count(*) FROM sqlite_master", func(stmt *sqlite.Stmt) error {
			tables = stmt.ColumnInt(0)
			return nil
		})
		if err != nil {
			return err
		}
		if tables != 0 {
			return errors.Wrap(ErrForeignFile, "database contains unknown tables")
		}
		if err := setPragma(kb.conn, "application_id", knowledgeBaseApplicationID); err != nil {
			return err
		}
		if err := setPragma(kb.conn, "user_version", knowledgeBaseVersion); err != nil {
			return err
		}
		return sqlitex.Exec(kb.conn, schema, nil)
	}

	if applicationID != knowledgeBaseApplicationID {
		return errors.Wrap(ErrForeignFile, fmt.Sprintf("application_id is %d, requires %d", applicationID, knowledgeBaseApplicationID))
	}
	if version != knowledgeBaseVersion {
		return fmt.Errorf("wrong knowledge base version (user_version is %d, requires %d)", version, knowledgeBaseVersion)
	}
	return nil
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, err := conn.Prepare("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	_, err = stmt.Step()
	if err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Finalize()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	stmt, err := conn.Prepare("PRAGMA " + name + " = " + fmt.Sprint(i))
	if err != nil {
		return err
	}
	_, err = stmt.Step()
	if err != nil {
		return err
	}
	return stmt.Finalize()
}

// Lookup returns the password stored for a hash.
func (kb *SQLite) Lookup(kind, hashHex string) (password string, found bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	err := sqlitex.Exec(kb.conn, "SELECT password FROM `passwords` WHERE kind = ? AND hash = ?",
		func(stmt *sqlite.Stmt) error {
			password = stmt.ColumnText(0)
			found = true
			return nil
		}, kind, strings.ToLower(hashHex))
	if err != nil {
		kb.logger.Warn("knowledge base lookup failed", zap.String("kind", kind), zap.Error(err))
		return "", false
	}
	return password, found
}

// Begin starts collecting records.
func (kb *SQLite) Begin() credrecovery.Txn {
	return &sqliteTxn{kb: kb}
}

// Close closes the database.
func (kb *SQLite) Close() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.conn.Close()
}

type record struct {
	kind, hash, password string
}

type sqliteTxn struct {
	kb      *SQLite
	records []record
}

func (tx *sqliteTxn) Record(kind, hashHex, password string) {
	tx.records = append(tx.records, record{kind: kind, hash: strings.ToLower(hashHex), password: password})
}

func (tx *sqliteTxn) Len() int { return len(tx.records) }

// Commit writes all records in one savepoint. On error nothing is written.
func (tx *sqliteTxn) Commit() (err error) {
	tx.kb.mu.Lock()
	defer tx.kb.mu.Unlock()

	defer sqlitex.Save(tx.kb.conn)(&err)

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	for _, r := range tx.records {
		if err = sqlitex.Exec(tx.kb.conn, upsert, nil, r.kind, r.hash, r.password, now); err != nil {
			return errors.Wrap(err, "could not store "+r.kind+" hash")
		}
	}
	tx.records = nil
	return nil
}
