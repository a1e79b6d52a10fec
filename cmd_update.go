// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vendorsmith/vendorsmith/pkg/cliutil"
	"github.com/vendorsmith/vendorsmith/pkg/installer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-resolve dependencies against the manifest and refresh the lockfile",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := loadProject()
			if err != nil {
				return err
			}

			res, err := p.solve(ctx)
			if err != nil {
				return err
			}

			manifestHash, err := p.manifest.Hash()
			if err != nil {
				return err
			}
			if err := p.writeLock(res, manifestHash); err != nil {
				return err
			}

			store, err := p.openStore()
			if err != nil {
				return err
			}

			result, err := installer.Install(ctx, store, res.Packages, installer.Config{VendorDir: p.vendorDir()})
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d package(s), %d from cache\n", result.Installed, result.CacheHits)
			return err
		},
	}
	argparser.AddCommand(cmd)
}
