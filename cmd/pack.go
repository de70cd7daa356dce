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
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/credrecovery/evidence"
)

// Pack is the credrecovery pack commandline subcommand. It stores a directory
// of collected evidence as a sqlar archive.
func Pack() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <archive> <directory>",
		Short: "Add a directory to a sqlite archive",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return errors.Errorf("%s is not a directory", args[1])
			}
			return evidence.WriteArchive(args[0], afero.NewBasePathFs(afero.NewOsFs(), args[1]))
		},
	}
}

// Ls is the credrecovery ls commandline subcommand.
func Ls() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <evidence> [pattern]",
		Short: "List files in a directory or sqlite archive",
		Args:  cobra.RangeArgs(1, 2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := evidence.Open(args[0])
			if err != nil {
				return err
			}
			pattern := "**"
			if len(args) == 2 {
				pattern = args[1]
			}
			names, err := store.Glob(pattern)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
