// taucorr computes multiple-tau time-correlation functions of sampled
// observables and inspects the results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

type globalFlags struct {
	logLevel string
	logJSON  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "taucorr",
		Short:         "multiple-tau correlator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			logging.InitWithWriter(cmd.ErrOrStderr(), level, g.logJSON)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", defaults.DefaultLogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newRunCmd(g),
		newShowCmd(),
		newInspectCmd(),
		newQueryCmd(),
		newRecordCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := errors.ExitCode(err)
		fmt.Fprintf(os.Stderr, "taucorr: %v (%s)\n", err, errors.ExitName(code))
		os.Exit(code)
	}
}
