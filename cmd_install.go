// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vendorsmith/vendorsmith/pkg/cliutil"
	"github.com/vendorsmith/vendorsmith/pkg/installer"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install dependencies from the lockfile, resolving one first if it is missing or stale",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := loadProject()
			if err != nil {
				return err
			}

			manifestHash, err := p.manifest.Hash()
			if err != nil {
				return err
			}

			var packages []resolve.Package
			lock, err := p.readLock()
			if err != nil {
				return err
			}
			switch {
			case lock != nil && lock.ContentHash == manifestHash:
				fmt.Fprintln(cmd.OutOrStdout(), "Installing from lockfile")
				packages, err = resolutionFromLock(lock)
				if err != nil {
					return err
				}
			default:
				if lock != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "composer.lock is out of date with composer.json, re-resolving")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no lockfile found, resolving dependencies")
				}
				res, err := p.solve(ctx)
				if err != nil {
					return err
				}
				if err := p.writeLock(res, manifestHash); err != nil {
					return err
				}
				packages = res.Packages
			}

			store, err := p.openStore()
			if err != nil {
				return err
			}

			result, installErr := installer.Install(ctx, store, packages, installer.Config{VendorDir: p.vendorDir()})
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d package(s), %d from cache\n", result.Installed, result.CacheHits)
			return installErr
		},
	}
	argparser.AddCommand(cmd)
}
