// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/vendorsmith/vendorsmith/pkg/cliutil"
	"github.com/vendorsmith/vendorsmith/pkg/lockfile"
)

// showEntry is the yaml-format report record for one locked package: a
// plain struct with yaml tags rather than reusing lockfile.PackageEntry
// directly, since dist/source are cosmetic detail the table view doesn't
// need but the yaml report does.
type showEntry struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	Dist    *showDistOrSource `yaml:"dist,omitempty"`
	Source  *showDistOrSource `yaml:"source,omitempty"`
}

type showDistOrSource struct {
	Type string `yaml:"type"`
	URL  string `yaml:"url"`
}

func init() {
	var devOnly bool
	var noDev bool
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the packages locked in composer.lock",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
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

			var entries []lockfile.PackageEntry
			if !devOnly {
				entries = append(entries, lock.Packages...)
			}
			if !noDev {
				entries = append(entries, lock.PackagesDev...)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

			switch format {
			case "yaml":
				return writeShowYAML(cmd, entries)
			case "text", "":
				return writeShowText(cmd, entries)
			default:
				return fmt.Errorf("unrecognized --format %q (want text or yaml)", format)
			}
		},
	}
	cmd.Flags().BoolVar(&devOnly, "dev-only", false, "Show only dev requirements")
	cmd.Flags().BoolVar(&noDev, "no-dev", false, "Exclude dev requirements")
	cmd.Flags().StringVar(&format, "format", "text", "Output `format`: text or yaml")
	argparser.AddCommand(cmd)
}

func writeShowText(cmd *cobra.Command, entries []lockfile.PackageEntry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Version)
	}
	return nil
}

func writeShowYAML(cmd *cobra.Command, entries []lockfile.PackageEntry) error {
	report := make([]showEntry, len(entries))
	for i, e := range entries {
		report[i] = showEntry{Name: e.Name, Version: e.Version}
		if e.Dist != nil {
			report[i].Dist = &showDistOrSource{Type: e.Dist.Type, URL: e.Dist.URL}
		}
		if e.Source != nil {
			report[i].Source = &showDistOrSource{Type: e.Source.Type, URL: e.Source.URL}
		}
	}
	body, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
