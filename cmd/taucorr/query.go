package main

import (
	"fmt"

	"github.com/spf13/cobra"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/query"
)

func newQueryCmd() *cobra.Command {
	var (
		name        string
		memoryLimit string
	)

	cmd := &cobra.Command{
		Use:   "query <result-dir> [sql]",
		Short: "run SQL over the result tables of a directory",
		Long: `
Expose every Parquet result table in a directory as the view "results"
(columns: correlator, lag, tau, count, component, value) and run a SQL
statement against it. Without a statement, list the correlators, or print
the table of --correlator.
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := query.DefaultOptions()
			opts.MemoryLimit = memoryLimit

			svc, err := query.Open(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			switch {
			case len(args) == 2:
				columns, results, err := svc.Query(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				rows := make([][]string, len(results))
				for i, r := range results {
					line := make([]string, len(columns))
					for j, col := range columns {
						line[j] = fmt.Sprint(r[col])
					}
					rows[i] = line
				}
				render(out, columns, rows)

			case name != "":
				table, err := svc.Correlation(cmd.Context(), name)
				if err != nil {
					return err
				}
				header, rows := correlationTable(table)
				render(out, header, rows)

			default:
				names, err := svc.Correlators(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, len(names))
				for i, n := range names {
					rows[i] = []string{n}
				}
				render(out, []string{"correlator"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "correlator", "", "print the table of this correlator")
	cmd.Flags().StringVar(&memoryLimit, "memory-limit", defaults.DefaultQueryMemoryLimit, "DuckDB memory limit")
	return cmd
}
