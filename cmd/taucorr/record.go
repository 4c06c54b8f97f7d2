package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtxerr/taucorr/internal/config"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/observable"
	"github.com/xtxerr/taucorr/internal/parquet"
)

func newRecordCmd() *cobra.Command {
	var steps int64

	cmd := &cobra.Command{
		Use:   "record <config.yaml> <observable> <out.parquet>",
		Short: "record an observable of a configuration as a trajectory file",
		Long: `
Sample one observable of a configuration and write it as a Parquet
trajectory. A trajectory observable can replay the file later.
`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			oc, ok := cfg.Observable(args[1])
			if !ok {
				return errors.NewNotFound("observable", args[1])
			}
			obs, err := observable.FromConfig(oc, cfg.TimeStep)
			if err != nil {
				return err
			}

			n := int64(cfg.Steps)
			if cmd.Flags().Changed("steps") {
				if steps < 1 {
					return errors.NewInvalidValue("steps", steps, "must be >= 1")
				}
				n = steps
			}

			opts := parquet.DefaultOptions()
			opts.Compression = parquet.ParseCompressionType(cfg.Output.Compression)
			if err := observable.Record(obs, args[2], n, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d steps of %s to %s\n", n, obs.Name(), args[2])
			return nil
		},
	}

	cmd.Flags().Int64Var(&steps, "steps", 0, "number of steps (default: steps of the config)")
	return cmd
}
