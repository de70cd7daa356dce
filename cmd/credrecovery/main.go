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

// Package main implements the credrecovery command line tool.
//
//	recover   Recover passwords, hashes and keys from evidence
//	lookup    Print the password of a hash from the knowledge base
//	pack      Add a directory to a sqlite archive
//	ls        List files in a directory or sqlite archive
//
// # Usage
//
// Recover with a known password and a persistent knowledge base
//
//	credrecovery recover --kb knowledge.db -p 'Summer2023!' evidence.sqlar > recovered.json
//
// Query the knowledge base
//
//	credrecovery lookup --kb knowledge.db NT 8846f7eaee8fb117ad06bdd830b7586c
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forensicanalysis/credrecovery/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "credrecovery",
		Short: "Recover credentials from forensic evidence",
	}
	rootCmd.AddCommand(cmd.Recover(), cmd.Lookup(), cmd.Pack(), cmd.Ls())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
