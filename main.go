// Command vendorsmith resolves and installs PHP package dependencies from
// a Composer-compatible project manifest.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/vendorsmith/vendorsmith/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "vendorsmith {[flags]|SUBCOMMAND...}",
	Short: "Resolve and install PHP packages from a Composer-compatible manifest",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
}

func main() {
	ctx := context.Background()

	if err := argparser.ExecuteContext(ctx); err != nil {
		dlog.Errorf(ctx, "%v", err)
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
