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

package knowledgebase

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
)

const redisTimeout = 5 * time.Second

// Redis is a knowledge base shared between examiners. Every hash kind is a
// redis hash below the prefix, mapping hex digests to passwords.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ credrecovery.KnowledgeBase = (*Redis)(nil)

// OpenRedis connects to redis and checks the connection.
func OpenRedis(redisOpts *redis.Options, prefix string, opts ...Option) (*Redis, error) {
	o := newOptions(opts)
	if prefix == "" {
		prefix = "credrecovery"
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() // nolint:errcheck
		return nil, errors.Wrap(err, "could not connect to redis")
	}
	return &Redis{client: client, prefix: prefix, logger: o.logger}, nil
}

func (kb *Redis) key(kind string) string {
	return kb.prefix + ":kb:" + kind
}

// Lookup returns the password stored for a hash.
func (kb *Redis) Lookup(kind, hashHex string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	password, err := kb.client.HGet(ctx, kb.key(kind), strings.ToLower(hashHex)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		kb.logger.Warn("knowledge base lookup failed", zap.String("kind", kind), zap.Error(err))
		return "", false
	}
	return password, true
}

// Begin starts collecting records.
func (kb *Redis) Begin() credrecovery.Txn {
	return &redisTxn{kb: kb}
}

// Close closes the connection.
func (kb *Redis) Close() error {
	return kb.client.Close()
}

type redisTxn struct {
	kb      *Redis
	records []record
}

func (tx *redisTxn) Record(kind, hashHex, password string) {
	tx.records = append(tx.records, record{kind: kind, hash: strings.ToLower(hashHex), password: password})
}

func (tx *redisTxn) Len() int { return len(tx.records) }

// Commit writes all records in one MULTI/EXEC block.
func (tx *redisTxn) Commit() error {
	if len(tx.records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	_, err := tx.kb.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range tx.records {
			pipe.HSet(ctx, tx.kb.key(r.kind), r.hash, r.password)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "could not store hashes")
	}
	tx.records = nil
	return nil
}
