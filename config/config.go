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

// Package config holds the configuration of a recovery run. A configuration
// is read from YAML, completed with defaults and overridden by command line
// flags.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Modules lists the names of all bundled recovery modules in registration
// order.
var Modules = []string{"casenotes", "registry", "masterkey", "hashchain", "storedcred", "hashtest"}

// Config of a recovery run.
type Config struct {
	// Evidence is a directory or a sqlar archive.
	Evidence string `yaml:"evidence,omitempty"`
	// KnowledgeBase is the path of a sqlite knowledge base.
	KnowledgeBase string `yaml:"knowledge_base,omitempty"`
	// Redis is the address of a redis knowledge base, it takes precedence
	// over KnowledgeBase.
	Redis       string `yaml:"redis,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
	// CasePasswords are passwords known to the investigators.
	CasePasswords []string `yaml:"case_passwords,omitempty"`
	// Notes is the glob pattern of case notes within the evidence.
	Notes string `yaml:"notes,omitempty"`
	// Modules enables a subset of Modules, all modules when empty.
	Modules []string `yaml:"modules,omitempty"`
	// Wordlist is a file of candidate passwords for hash testing.
	Wordlist string `yaml:"wordlist,omitempty"`
	Verbose  bool   `yaml:"verbose,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		RedisPrefix: "credrecovery",
		Notes:       "**/*notes*.txt",
	}
}

// Load reads a YAML configuration file and completes it with defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec
	if err != nil {
		return Config{}, errors.Wrap(err, "could not read config")
	}
	return Parse(data)
}

// Parse parses a YAML configuration and completes it with defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "could not parse config")
	}
	if err := cfg.Merge(Default()); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Merge fills all unset fields of c from base.
func (c *Config) Merge(base Config) error {
	return errors.Wrap(mergo.Merge(c, base), "could not merge config")
}

// Validate checks module names.
func (c *Config) Validate() error {
	for _, name := range c.Modules {
		if !known(name) {
			return errors.Errorf("unknown module %q", name)
		}
	}
	return nil
}

// Enabled reports whether the module name should be registered.
func (c *Config) Enabled(name string) bool {
	if len(c.Modules) == 0 {
		return true
	}
	for _, m := range c.Modules {
		if m == name {
			return true
		}
	}
	return false
}

func known(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}
