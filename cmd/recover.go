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
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forensicanalysis/credrecovery"
	"github.com/forensicanalysis/credrecovery/config"
	"github.com/forensicanalysis/credrecovery/evidence"
	"github.com/forensicanalysis/credrecovery/export"
	"github.com/forensicanalysis/credrecovery/knowledgebase"
	"github.com/forensicanalysis/credrecovery/modules/casenotes"
	"github.com/forensicanalysis/credrecovery/modules/hashchain"
	"github.com/forensicanalysis/credrecovery/modules/hashtest"
	"github.com/forensicanalysis/credrecovery/modules/masterkey"
	"github.com/forensicanalysis/credrecovery/modules/registry"
	"github.com/forensicanalysis/credrecovery/modules/storedcred"
)

type knowledgeBase interface {
	credrecovery.KnowledgeBase
	io.Closer
}

// Recover is the credrecovery recover commandline subcommand.
func Recover() *cobra.Command {
	var configPath string
	var flags config.Config
	recoverCommand := &cobra.Command{
		Use:   "recover [evidence]",
		Short: "Recover passwords, hashes and keys from evidence",
		Long: `Recover runs all recovery modules over a directory or sqlar archive and
prints every recovered artifact as JSON elements.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runConfig(configPath, flags, args)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer logger.Sync() // nolint:errcheck

			store, err := evidence.Open(cfg.Evidence)
			if err != nil {
				return err
			}

			opts := []credrecovery.Option{credrecovery.WithLogger(logger)}
			kb, err := openKnowledgeBase(cfg, logger)
			if err != nil {
				return err
			}
			if kb != nil {
				defer kb.Close()
				opts = append(opts, credrecovery.WithKnowledgeBase(kb))
			}

			modules, err := newModules(cfg, store, logger)
			if err != nil {
				return err
			}

			engine := credrecovery.New(opts...)
			engine.Register(modules...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			result, runErr := engine.Run(ctx)
			if result != nil {
				if err := export.Write(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	recoverCommand.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	recoverCommand.Flags().StringVar(&flags.KnowledgeBase, "kb", "", "sqlite knowledge base")
	recoverCommand.Flags().StringVar(&flags.Redis, "redis", "", "redis knowledge base address, used instead of --kb")
	recoverCommand.Flags().StringArrayVarP(&flags.CasePasswords, "password", "p", nil, "known case password, can be repeated")
	recoverCommand.Flags().StringVar(&flags.Notes, "notes", "", "glob pattern of case notes")
	recoverCommand.Flags().StringSliceVar(&flags.Modules, "module", nil, "enabled modules (default all)")
	recoverCommand.Flags().StringVar(&flags.Wordlist, "wordlist", "", "file of candidate passwords")
	recoverCommand.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	return recoverCommand
}

// runConfig merges flags over the configuration file over the defaults.
func runConfig(configPath string, flags config.Config, args []string) (config.Config, error) {
	cfg := flags
	if len(args) == 1 {
		cfg.Evidence = args[0]
	}

	base := config.Default()
	if configPath != "" {
		var err error
		if base, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.Merge(base); err != nil {
		return config.Config{}, err
	}
	if cfg.Evidence == "" {
		return config.Config{}, errors.New("requires evidence")
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func openKnowledgeBase(cfg config.Config, logger *zap.Logger) (knowledgeBase, error) {
	switch {
	case cfg.Redis != "":
		kb, err := knowledgebase.OpenRedis(&redis.Options{Addr: cfg.Redis}, cfg.RedisPrefix, knowledgebase.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return kb, nil
	case cfg.KnowledgeBase != "":
		kb, err := knowledgebase.OpenSQLite(cfg.KnowledgeBase, knowledgebase.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return kb, nil
	}
	return nil, nil
}

func newModules(cfg config.Config, store *evidence.Store, logger *zap.Logger) ([]credrecovery.Module, error) {
	var modules []credrecovery.Module
	for _, name := range config.Modules {
		if !cfg.Enabled(name) {
			continue
		}
		switch name {
		case casenotes.Name:
			modules = append(modules, casenotes.New(store, cfg.Notes, cfg.CasePasswords, logger))
		case registry.Name:
			modules = append(modules, registry.New(store, logger))
		case masterkey.Name:
			modules = append(modules, masterkey.New(store, logger))
		case hashchain.Name:
			modules = append(modules, hashchain.New(store, logger))
		case storedcred.Name:
			modules = append(modules, storedcred.New(store, logger))
		case hashtest.Name:
			m := hashtest.New(logger)
			if cfg.Wordlist != "" {
				if err := addWordlist(m, cfg.Wordlist); err != nil {
					return nil, err
				}
			}
			modules = append(modules, m)
		}
	}
	return modules, nil
}

func addWordlist(m *hashtest.Module, path string) error {
	f, err := os.Open(path) // #nosec
	if err != nil {
		return errors.Wrap(err, "could not open wordlist")
	}
	defer f.Close()
	return m.AddCandidates(f)
}
