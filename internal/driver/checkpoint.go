package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
	"github.com/xtxerr/taucorr/internal/parquet"
)

// ManifestFile names the checkpoint manifest inside a checkpoint directory.
const ManifestFile = "checkpoint.yaml"

// Manifest describes a checkpoint. It is written after every snapshot file,
// so a directory without one holds no complete checkpoint.
type Manifest struct {
	Step        int64             `yaml:"step"`
	Created     time.Time         `yaml:"created"`
	Correlators map[string]string `yaml:"correlators"` // name -> snapshot file
}

// Checkpoint writes a snapshot of every correlator and a manifest to dir.
// The correlators are serialized under the driver lock; files are written
// concurrently afterwards. Each file is replaced atomically.
func (d *Driver) Checkpoint(ctx context.Context, dir string) error {
	d.mu.Lock()
	step := d.step
	snaps := make(map[string][]byte, len(d.entries))
	for _, e := range d.entries {
		data, err := e.corr.Serialize()
		if err != nil {
			d.mu.Unlock()
			return errors.Wrapf(err, "serialize %s", e.name)
		}
		snaps[e.name] = data
	}
	d.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	manifest := Manifest{
		Step:        step,
		Created:     time.Now().UTC(),
		Correlators: make(map[string]string, len(snaps)),
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, data := range snaps {
		file := name + defaults.DefaultSnapshotFileSuffix
		manifest.Correlators[name] = file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeFileAtomic(filepath.Join(dir, file), data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFile), data); err != nil {
		return err
	}

	d.metrics.ObserveCheckpoint()
	log.Info("checkpoint written", "dir", dir, "step", step, "correlators", len(snaps))
	return nil
}

// ReadManifest reads the manifest of the checkpoint in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("checkpoint", dir)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %v: %w", err, errors.ErrSnapshotCorrupt)
	}
	if m.Step < 0 {
		return nil, fmt.Errorf("manifest step %d: %w", m.Step, errors.ErrSnapshotCorrupt)
	}
	return &m, nil
}

// Resume restores every registered correlator from the checkpoint in dir
// and continues counting from its step. The checkpoint must cover exactly
// the registered correlators with identical configurations. Observable
// summaries restart empty. On error nothing changes.
func (d *Driver) Resume(dir string) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name := range m.Correlators {
		if _, ok := d.byName[name]; !ok {
			errs = append(errs, errors.Wrapf(errors.ErrSnapshotMismatch, "checkpoint has unknown correlator %s", name))
		}
	}
	for _, e := range d.entries {
		if _, ok := m.Correlators[e.name]; !ok {
			errs = append(errs, errors.Wrapf(errors.ErrSnapshotMismatch, "checkpoint has no correlator %s", e.name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	// Load every snapshot aside first so that a bad file commits nothing.
	loaded := make([]*correlator.Correlator, len(d.entries))
	for i, e := range d.entries {
		data, err := os.ReadFile(filepath.Join(dir, filepath.Base(m.Correlators[e.name])))
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", e.name, err)
		}
		c, err := correlator.Load(data)
		if err != nil {
			return errors.Wrapf(err, "load %s", e.name)
		}
		if c.Config() != e.corr.Config() {
			return configMismatch(e.name, e.corr, c.Snapshot())
		}
		loaded[i] = c
	}

	for i, e := range d.entries {
		if err := e.corr.RestoreSnapshot(loaded[i].Snapshot()); err != nil {
			return errors.Wrapf(err, "restore %s", e.name)
		}
		d.metrics.SetResident(e.name, e.corr.ResidentSamples())
	}

	// Checkpoints carry no summaries; they restart at the resumed step.
	for _, set := range d.summaries {
		set.Reset()
	}

	d.step = m.Step
	log.Info("resumed from checkpoint", "dir", dir, "step", m.Step, "correlators", len(d.entries))
	return nil
}

// configMismatch describes why s cannot be restored into target. It never
// returns nil: a difference CheckSnapshot does not name still fails.
func configMismatch(name string, target *correlator.Correlator, s *correlator.Snapshot) error {
	err := target.CheckSnapshot(s)
	if err == nil {
		err = errors.Wrap(errors.ErrSnapshotMismatch, "configuration differs")
	}
	return errors.Wrapf(err, "restore %s", name)
}

// Export writes the result table of every correlator to
// dir/<name>.parquet, concurrently, and returns the written paths in
// update order.
func (d *Driver) Export(ctx context.Context, dir string, opts parquet.Options) ([]string, error) {
	d.mu.Lock()
	names := make([]string, len(d.entries))
	tables := make([][]correlator.Row, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.name
		tables[i] = e.corr.Result()
	}
	d.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		paths[i] = filepath.Join(dir, name+defaults.DefaultResultFileSuffix)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := parquet.WriteResults(paths[i], name, tables[i], opts); err != nil {
				return errors.Wrapf(err, "export %s", name)
			}
			logging.WithContext(logging.ContextWithCorrelator(ctx, name)).Debug("result written", "path", paths[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("results exported", "dir", dir, "correlators", len(names))
	return paths, nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
