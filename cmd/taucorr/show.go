package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/parquet"
)

func newShowCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "show <results.parquet | snapshot.tauc>",
		Short: "print a correlation table",
		Long: `
Print the correlation table stored in a Parquet result file or computed
from a correlator snapshot. A result file holding several correlators
prints each in turn; --correlator selects one.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := loadTables(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			shown := 0
			for _, t := range tables {
				if name != "" && t.name != name {
					continue
				}
				if len(tables) > 1 {
					if shown > 0 {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "# %s\n", t.name)
				}
				header, rows := correlationTable(t.rows)
				render(out, header, rows)
				shown++
			}
			if shown == 0 && name != "" {
				return errors.NewNotFound("correlator", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "correlator", "", "only show this correlator")
	return cmd
}

type namedTable struct {
	name string
	rows []correlator.Row
}

// loadTables reads the correlation tables of a result file or snapshot.
func loadTables(path string) ([]namedTable, error) {
	if strings.HasSuffix(path, defaults.DefaultSnapshotFileSuffix) {
		c, err := loadSnapshot(path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(path), defaults.DefaultSnapshotFileSuffix)
		return []namedTable{{name: name, rows: c.Result()}}, nil
	}

	rows, err := parquet.ReadResults(path)
	if err != nil {
		return nil, err
	}

	// Split by correlator, in file order.
	var order []string
	byName := make(map[string][]parquet.ResultRow)
	for _, r := range rows {
		if _, ok := byName[r.Correlator]; !ok {
			order = append(order, r.Correlator)
		}
		byName[r.Correlator] = append(byName[r.Correlator], r)
	}

	tables := make([]namedTable, len(order))
	for i, name := range order {
		tables[i] = namedTable{name: name, rows: parquet.CorrelationRows(byName[name])}
	}
	return tables, nil
}

func loadSnapshot(path string) (*correlator.Correlator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("snapshot", path)
		}
		return nil, err
	}
	c, err := correlator.Load(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return c, nil
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot.tauc>",
		Short: "print the configuration and state of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}

			cfg := c.Config()
			stats := c.Stats()
			pairs := [][2]string{
				{correlator.KeyOperator, cfg.Operation.String()},
				{correlator.KeyTauLin, strconv.Itoa(cfg.TauLin)},
				{correlator.KeyTauMax, formatFloat(cfg.TauMax)},
				{correlator.KeyDeltaN, strconv.Itoa(cfg.DeltaN)},
				{correlator.KeyTimeStep, formatFloat(cfg.TimeStep)},
				{correlator.KeyDim, strconv.Itoa(cfg.DimA)},
				{correlator.KeyDimB, strconv.Itoa(cfg.DimB)},
				{correlator.KeyCompressA, cfg.CompressA.String()},
				{correlator.KeyCompressB, cfg.CompressB.String()},
				{"dt", formatFloat(c.Dt())},
				{"depth", strconv.Itoa(stats.Depth)},
				{"lags", fmt.Sprintf("%d (%d filled)", stats.Lags, stats.FilledLags)},
				{"frames", strconv.FormatUint(stats.Frames, 10)},
				{"pending_calls", strconv.Itoa(stats.PendingCalls)},
				{"resident", fmt.Sprintf("%d/%d", stats.ResidentSamples, stats.Capacity)},
				{"finalized", strconv.FormatBool(stats.Finalized)},
			}
			for i, lvl := range c.LevelStats() {
				pairs = append(pairs, [2]string{
					fmt.Sprintf("level_%d", i),
					fmt.Sprintf("%d/%d pushed=%d", lvl.Count, lvl.Capacity, lvl.Pushed),
				})
			}
			if cfg.Operation == correlator.OpFCSACF {
				pairs = append(pairs, [2]string{correlator.KeyArgs, fmt.Sprint(cfg.Args)})
			}
			if a, b := c.Averages(); a != nil {
				pairs = append(pairs,
					[2]string{"mean_a", fmt.Sprint(a)},
					[2]string{"mean_b", fmt.Sprint(b)})
			}

			header, rows := keyValueTable(pairs)
			render(cmd.OutOrStdout(), header, rows)
			return nil
		},
	}
}
