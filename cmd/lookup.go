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

package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery/config"
)

// ErrUnknownHash is returned by lookup when the knowledge base has no password.
var ErrUnknownHash = errors.New("hash not in knowledge base")

// Lookup is the credrecovery lookup commandline subcommand.
func Lookup() *cobra.Command {
	var cfg config.Config
	lookupCommand := &cobra.Command{
		Use:   "lookup <kind> <hash>",
		Short: "Print the password of a hash from the knowledge base",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Redis == "" && cfg.KnowledgeBase == "" {
				return errors.New("requires --kb or --redis")
			}
			if err := cfg.Merge(config.Default()); err != nil {
				return err
			}
			kb, err := openKnowledgeBase(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer kb.Close()

			password, found := kb.Lookup(strings.ToUpper(args[0]), args[1])
			if !found {
				return errors.Wrap(ErrUnknownHash, args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), password)
			return nil
		},
	}
	lookupCommand.Flags().StringVar(&cfg.KnowledgeBase, "kb", "", "sqlite knowledge base")
	lookupCommand.Flags().StringVar(&cfg.Redis, "redis", "", "redis knowledge base address")
	lookupCommand.Flags().StringVar(&cfg.RedisPrefix, "redis-prefix", "", "redis key prefix")
	return lookupCommand
}
