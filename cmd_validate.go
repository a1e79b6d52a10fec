// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vendorsmith/vendorsmith/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that composer.lock is current with composer.json",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}

			manifestHash, err := p.manifest.Hash()
			if err != nil {
				return err
			}

			lock, err := p.readLock()
			if err != nil {
				return err
			}
			if lock == nil {
				return fmt.Errorf("no composer.lock present; run 'vendorsmith update' first")
			}
			if lock.ContentHash != manifestHash {
				return fmt.Errorf("composer.lock is out of date with composer.json (content-hash %s, want %s)",
					lock.ContentHash, manifestHash)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "composer.lock is up to date with composer.json")
			return nil
		},
	}
	argparser.AddCommand(cmd)
}
