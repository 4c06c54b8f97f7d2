package driver

import (
	"github.com/xtxerr/taucorr/internal/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/metrics"
	"github.com/xtxerr/taucorr/internal/observable"
)

// FromConfig builds a driver with the observables and correlators of cfg.
// Correlators are updated in the order they appear in the file.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Driver, error) {
	opts := Options{
		Metrics:         m,
		Summaries:       true,
		CheckpointDir:   cfg.Output.CheckpointDir,
		CheckpointEvery: int64(cfg.Output.CheckpointEvery),
	}
	if cfg.Percentile.Enabled {
		opts.PercentileAccuracy = cfg.Percentile.Accuracy
	}
	d := New(opts)

	observables := make(map[string]observable.Observable, len(cfg.Observables))
	for _, oc := range cfg.Observables {
		o, err := observable.FromConfig(oc, cfg.TimeStep)
		if err != nil {
			return nil, errors.Wrapf(err, "observable %s", oc.Name)
		}
		observables[oc.Name] = o
	}

	for _, cc := range cfg.Correlators {
		a, ok := observables[cc.Observable]
		if !ok {
			return nil, errors.Wrapf(errors.NewNotFound("observable", cc.Observable), "correlator %s", cc.Name)
		}
		b := a
		if cc.ObservableB != "" {
			if b, ok = observables[cc.ObservableB]; !ok {
				return nil, errors.Wrapf(errors.NewNotFound("observable", cc.ObservableB), "correlator %s", cc.Name)
			}
		}

		corr, err := correlator.NewFromParams(cfg.CorrelatorParams(cc, a.Dim(), b.Dim()))
		if err != nil {
			return nil, errors.Wrapf(err, "correlator %s", cc.Name)
		}
		if err := d.Add(cc.Name, corr, a, b); err != nil {
			return nil, err
		}
	}

	log.Debug("driver built", "observables", len(observables), "correlators", len(cfg.Correlators))
	return d, nil
}
