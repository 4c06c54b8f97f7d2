package correlator

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/taucorr/internal/errors"
)

// SnapshotVersion is the version written by Serialize. Restore accepts only
// this version.
const SnapshotVersion = 1

// snapshotMagic prefixes every encoded snapshot.
var snapshotMagic = []byte("TAUC")

// Snapshot is the complete state of a Correlator: its configuration, every
// level of the hierarchy, the bins and the running sums.
//
// Encoding (after the 4-byte magic) is a protobuf message:
//
//	message Snapshot {
//	  uint32 version        = 1;
//	  string operator       = 2;
//	  string compress_a     = 3;
//	  string compress_b     = 4;
//	  uint32 tau_lin        = 5;
//	  double tau_max        = 6;
//	  uint32 delta_n        = 7;
//	  double time_step      = 8;
//	  uint32 dim_a          = 9;
//	  uint32 dim_b          = 10;
//	  repeated double args  = 11 [packed];
//	  uint64 frames         = 12;
//	  uint32 pending_calls  = 13;
//	  bool   finalized      = 14;
//	  repeated Level levels = 15;
//	  repeated double sums  = 16 [packed];
//	  repeated uint64 counts = 17 [packed];
//	  repeated double sum_a = 18 [packed];
//	  repeated double sum_b = 19 [packed];
//	}
//	message Level {
//	  uint32 head           = 1;
//	  uint64 pushed         = 2;
//	  repeated double a     = 3 [packed]; // slots * dim_a, storage order
//	  repeated double b     = 4 [packed]; // slots * dim_b, storage order
//	}
type Snapshot struct {
	Version      uint32
	Operator     string
	CompressA    string
	CompressB    string
	TauLin       int
	TauMax       float64
	DeltaN       int
	TimeStep     float64
	DimA         int
	DimB         int
	Args         [3]float64
	Frames       uint64
	PendingCalls int
	Finalized    bool
	Levels       []LevelState
	Sums         []float64
	Counts       []uint64
	SumA         []float64
	SumB         []float64
}

// LevelState is the stored state of one hierarchy level.
type LevelState struct {
	Head   int
	Pushed int64
	A      []float64
	B      []float64
}

const (
	fieldVersion      protowire.Number = 1
	fieldOperator     protowire.Number = 2
	fieldCompressA    protowire.Number = 3
	fieldCompressB    protowire.Number = 4
	fieldTauLin       protowire.Number = 5
	fieldTauMax       protowire.Number = 6
	fieldDeltaN       protowire.Number = 7
	fieldTimeStep     protowire.Number = 8
	fieldDimA         protowire.Number = 9
	fieldDimB         protowire.Number = 10
	fieldArgs         protowire.Number = 11
	fieldFrames       protowire.Number = 12
	fieldPendingCalls protowire.Number = 13
	fieldFinalized    protowire.Number = 14
	fieldLevels       protowire.Number = 15
	fieldSums         protowire.Number = 16
	fieldCounts       protowire.Number = 17
	fieldSumA         protowire.Number = 18
	fieldSumB         protowire.Number = 19

	fieldLevelHead   protowire.Number = 1
	fieldLevelPushed protowire.Number = 2
	fieldLevelA      protowire.Number = 3
	fieldLevelB      protowire.Number = 4
)

// Config returns the correlator configuration recorded in the snapshot.
func (s *Snapshot) Config() (Config, error) {
	op, err := ParseOperation(s.Operator)
	if err != nil {
		return Config{}, err
	}
	ca, err := ParseCompression(s.CompressA)
	if err != nil {
		return Config{}, err
	}
	cb, err := ParseCompression(s.CompressB)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Operation: op,
		CompressA: ca,
		CompressB: cb,
		TauLin:    s.TauLin,
		TauMax:    s.TauMax,
		DeltaN:    s.DeltaN,
		TimeStep:  s.TimeStep,
		DimA:      s.DimA,
		DimB:      s.DimB,
		Args:      s.Args,
	}, nil
}

// MarshalBinary encodes the snapshot.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	b := append([]byte(nil), snapshotMagic...)

	b = appendVarint(b, fieldVersion, uint64(s.Version))
	b = appendString(b, fieldOperator, s.Operator)
	b = appendString(b, fieldCompressA, s.CompressA)
	b = appendString(b, fieldCompressB, s.CompressB)
	b = appendVarint(b, fieldTauLin, uint64(s.TauLin))
	b = appendDouble(b, fieldTauMax, s.TauMax)
	b = appendVarint(b, fieldDeltaN, uint64(s.DeltaN))
	b = appendDouble(b, fieldTimeStep, s.TimeStep)
	b = appendVarint(b, fieldDimA, uint64(s.DimA))
	b = appendVarint(b, fieldDimB, uint64(s.DimB))
	b = appendPackedDoubles(b, fieldArgs, s.Args[:])
	b = appendVarint(b, fieldFrames, s.Frames)
	b = appendVarint(b, fieldPendingCalls, uint64(s.PendingCalls))
	b = appendVarint(b, fieldFinalized, protowire.EncodeBool(s.Finalized))

	for _, lvl := range s.Levels {
		var m []byte
		m = appendVarint(m, fieldLevelHead, uint64(lvl.Head))
		m = appendVarint(m, fieldLevelPushed, uint64(lvl.Pushed))
		m = appendPackedDoubles(m, fieldLevelA, lvl.A)
		m = appendPackedDoubles(m, fieldLevelB, lvl.B)
		b = protowire.AppendTag(b, fieldLevels, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	b = appendPackedDoubles(b, fieldSums, s.Sums)
	b = appendPackedVarints(b, fieldCounts, s.Counts)
	b = appendPackedDoubles(b, fieldSumA, s.SumA)
	b = appendPackedDoubles(b, fieldSumB, s.SumB)
	return b, nil
}

// UnmarshalBinary decodes a snapshot produced by MarshalBinary. Unknown
// fields are skipped.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if !bytes.HasPrefix(data, snapshotMagic) {
		return fmt.Errorf("missing snapshot header: %w", errors.ErrSnapshotCorrupt)
	}
	*s = Snapshot{}

	err := consumeFields(data[len(snapshotMagic):], func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		switch num {
		case fieldVersion:
			var v uint64
			v, err = varintValue(typ, raw)
			s.Version = uint32(v)
		case fieldOperator:
			s.Operator, err = stringValue(typ, raw)
		case fieldCompressA:
			s.CompressA, err = stringValue(typ, raw)
		case fieldCompressB:
			s.CompressB, err = stringValue(typ, raw)
		case fieldTauLin:
			s.TauLin, err = intValue(typ, raw)
		case fieldTauMax:
			s.TauMax, err = doubleValue(typ, raw)
		case fieldDeltaN:
			s.DeltaN, err = intValue(typ, raw)
		case fieldTimeStep:
			s.TimeStep, err = doubleValue(typ, raw)
		case fieldDimA:
			s.DimA, err = intValue(typ, raw)
		case fieldDimB:
			s.DimB, err = intValue(typ, raw)
		case fieldArgs:
			var args []float64
			if args, err = packedDoubles(typ, raw); err == nil {
				if len(args) != 3 {
					return fmt.Errorf("args has %d values", len(args))
				}
				copy(s.Args[:], args)
			}
		case fieldFrames:
			s.Frames, err = varintValue(typ, raw)
		case fieldPendingCalls:
			s.PendingCalls, err = intValue(typ, raw)
		case fieldFinalized:
			var v uint64
			v, err = varintValue(typ, raw)
			s.Finalized = protowire.DecodeBool(v)
		case fieldLevels:
			var lvl LevelState
			if lvl, err = decodeLevel(typ, raw); err == nil {
				s.Levels = append(s.Levels, lvl)
			}
		case fieldSums:
			s.Sums, err = packedDoubles(typ, raw)
		case fieldCounts:
			s.Counts, err = packedVarints(typ, raw)
		case fieldSumA:
			s.SumA, err = packedDoubles(typ, raw)
		case fieldSumB:
			s.SumB, err = packedDoubles(typ, raw)
		}
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode snapshot: %v: %w", err, errors.ErrSnapshotCorrupt)
	}
	return nil
}

func decodeLevel(typ protowire.Type, raw []byte) (LevelState, error) {
	var lvl LevelState
	if typ != protowire.BytesType {
		return lvl, fmt.Errorf("level has wire type %d", typ)
	}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		switch num {
		case fieldLevelHead:
			lvl.Head, err = intValue(typ, raw)
		case fieldLevelPushed:
			var v uint64
			v, err = varintValue(typ, raw)
			lvl.Pushed = int64(v)
		case fieldLevelA:
			lvl.A, err = packedDoubles(typ, raw)
		case fieldLevelB:
			lvl.B, err = packedDoubles(typ, raw)
		}
		return err
	})
	return lvl, err
}

// =============================================================================
// Correlator state capture
// =============================================================================

// Snapshot captures the complete state of the correlator.
func (c *Correlator) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:      SnapshotVersion,
		Operator:     c.cfg.Operation.String(),
		CompressA:    c.cfg.CompressA.String(),
		CompressB:    c.cfg.CompressB.String(),
		TauLin:       c.cfg.TauLin,
		TauMax:       c.cfg.TauMax,
		DeltaN:       c.cfg.DeltaN,
		TimeStep:     c.cfg.TimeStep,
		DimA:         c.cfg.DimA,
		DimB:         c.cfg.DimB,
		Args:         c.cfg.Args,
		Frames:       c.frames,
		PendingCalls: c.pending,
		Finalized:    c.finalized,
		Levels:       make([]LevelState, c.h.depth()),
		Sums:         append([]float64(nil), c.bins.sums...),
		Counts:       append([]uint64(nil), c.bins.counts...),
		SumA:         append([]float64(nil), c.sumA...),
		SumB:         append([]float64(nil), c.sumB...),
	}

	for i := range s.Levels {
		slotsA, head, pushed := c.h.a[i].State()
		slotsB, _, _ := c.h.b[i].State()
		s.Levels[i] = LevelState{
			Head:   head,
			Pushed: pushed,
			A:      flatten(slotsA),
			B:      flatten(slotsB),
		}
	}
	return s
}

// Serialize encodes the complete state of the correlator.
func (c *Correlator) Serialize() ([]byte, error) {
	return c.Snapshot().MarshalBinary()
}

// Restore replaces the state of c with the state encoded in data. The
// snapshot must record the same configuration as c; otherwise Restore fails
// with ErrSnapshotMismatch. On any error c is left unchanged.
func (c *Correlator) Restore(data []byte) error {
	var s Snapshot
	if err := s.UnmarshalBinary(data); err != nil {
		return err
	}
	return c.RestoreSnapshot(&s)
}

// RestoreSnapshot is Restore for an already decoded snapshot.
func (c *Correlator) RestoreSnapshot(s *Snapshot) error {
	if err := c.CheckSnapshot(s); err != nil {
		return err
	}

	// Build the new state aside so that a bad snapshot commits nothing.
	depth := c.h.depth()
	if len(s.Levels) != depth {
		return errors.NewSnapshotMismatch("levels", len(s.Levels), depth)
	}
	if len(s.Counts) != len(c.bins.counts) {
		return errors.NewSnapshotMismatch("lags", len(s.Counts), len(c.bins.counts))
	}
	if len(s.Sums) != len(c.bins.sums) {
		return errors.NewSnapshotMismatch("bin values", len(s.Sums), len(c.bins.sums))
	}
	if len(s.SumA) != c.cfg.DimA || len(s.SumB) != c.cfg.DimB {
		return errors.NewSnapshotMismatch("averages", fmt.Sprintf("%d/%d", len(s.SumA), len(s.SumB)),
			fmt.Sprintf("%d/%d", c.cfg.DimA, c.cfg.DimB))
	}
	if s.PendingCalls < 0 || s.PendingCalls >= c.cfg.DeltaN {
		return errors.NewSnapshotMismatch("pending calls", s.PendingCalls, fmt.Sprintf("< %d", c.cfg.DeltaN))
	}

	h := newHierarchy(c.cfg.TauLin, depth, c.cfg.DimA, c.cfg.DimB, c.cfg.CompressA, c.cfg.CompressB)
	slots := c.cfg.TauLin + 1
	for i, lvl := range s.Levels {
		slotsA, err := unflatten(lvl.A, slots, c.cfg.DimA)
		if err != nil {
			return errors.Wrapf(fmt.Errorf("%v: %w", err, errors.ErrSnapshotMismatch), "level %d A", i)
		}
		slotsB, err := unflatten(lvl.B, slots, c.cfg.DimB)
		if err != nil {
			return errors.Wrapf(fmt.Errorf("%v: %w", err, errors.ErrSnapshotMismatch), "level %d B", i)
		}
		if err := h.a[i].SetState(slotsA, lvl.Head, lvl.Pushed); err != nil {
			return errors.Wrapf(fmt.Errorf("%v: %w", err, errors.ErrSnapshotMismatch), "level %d", i)
		}
		if err := h.b[i].SetState(slotsB, lvl.Head, lvl.Pushed); err != nil {
			return errors.Wrapf(fmt.Errorf("%v: %w", err, errors.ErrSnapshotMismatch), "level %d", i)
		}
	}

	c.h = h
	copy(c.bins.sums, s.Sums)
	copy(c.bins.counts, s.Counts)
	copy(c.sumA, s.SumA)
	copy(c.sumB, s.SumB)
	c.frames = s.Frames
	c.pending = s.PendingCalls
	c.finalized = s.Finalized
	return nil
}

// CheckSnapshot reports every field in which the version or configuration
// recorded in s differs from c's. It does not change c.
func (c *Correlator) CheckSnapshot(s *Snapshot) error {
	if s.Version != SnapshotVersion {
		return errors.NewSnapshotMismatch("version", s.Version, SnapshotVersion)
	}
	return c.checkCompatible(s)
}

// checkCompatible compares the configuration recorded in s with c's.
func (c *Correlator) checkCompatible(s *Snapshot) error {
	cfg := c.cfg
	var errs []error

	if s.Operator != cfg.Operation.String() {
		errs = append(errs, errors.NewSnapshotMismatch("operator", s.Operator, cfg.Operation))
	}
	if s.CompressA != cfg.CompressA.String() {
		errs = append(errs, errors.NewSnapshotMismatch("compress_a", s.CompressA, cfg.CompressA))
	}
	if s.CompressB != cfg.CompressB.String() {
		errs = append(errs, errors.NewSnapshotMismatch("compress_b", s.CompressB, cfg.CompressB))
	}
	if s.TauLin != cfg.TauLin {
		errs = append(errs, errors.NewSnapshotMismatch("tau_lin", s.TauLin, cfg.TauLin))
	}
	if s.TauMax != cfg.TauMax {
		errs = append(errs, errors.NewSnapshotMismatch("tau_max", s.TauMax, cfg.TauMax))
	}
	if s.DeltaN != cfg.DeltaN {
		errs = append(errs, errors.NewSnapshotMismatch("delta_N", s.DeltaN, cfg.DeltaN))
	}
	if s.TimeStep != cfg.TimeStep {
		errs = append(errs, errors.NewSnapshotMismatch("time_step", s.TimeStep, cfg.TimeStep))
	}
	if s.DimA != cfg.DimA {
		errs = append(errs, errors.NewSnapshotMismatch("dim", s.DimA, cfg.DimA))
	}
	if s.DimB != cfg.DimB {
		errs = append(errs, errors.NewSnapshotMismatch("dim_b", s.DimB, cfg.DimB))
	}
	if s.Args != cfg.Args {
		errs = append(errs, errors.NewSnapshotMismatch("args", s.Args, cfg.Args))
	}

	return errors.Join(errs...)
}

// Load constructs a correlator from a serialized snapshot, taking the
// configuration from the snapshot itself.
func Load(data []byte) (*Correlator, error) {
	var s Snapshot
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, fmt.Errorf("snapshot configuration: %v: %w", err, errors.ErrSnapshotCorrupt)
	}
	c, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshot configuration: %v: %w", err, errors.ErrSnapshotCorrupt)
	}
	if err := c.RestoreSnapshot(&s); err != nil {
		return nil, err
	}
	return c, nil
}

func flatten(slots [][]float64) []float64 {
	var out []float64
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}

func unflatten(flat []float64, slots, dim int) ([][]float64, error) {
	if len(flat) != slots*dim {
		return nil, fmt.Errorf("has %d values, expected %d", len(flat), slots*dim)
	}
	out := make([][]float64, slots)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim]
	}
	return out, nil
}

// =============================================================================
// protowire helpers
// =============================================================================

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, f float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(values)))
	for _, v := range values {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func appendPackedVarints(b []byte, num protowire.Number, values []uint64) []byte {
	if len(values) == 0 {
		return b
	}
	size := 0
	for _, v := range values {
		size += protowire.SizeVarint(v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	for _, v := range values {
		b = protowire.AppendVarint(b, v)
	}
	return b
}

// consumeFields walks a message and hands each field's type and raw value
// (the value bytes for BytesType, the encoded scalar otherwise) to fn.
func consumeFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return protowire.ParseError(m)
		}
		raw := data[:m]
		if typ == protowire.BytesType {
			v, k := protowire.ConsumeBytes(raw)
			if k < 0 {
				return protowire.ParseError(k)
			}
			raw = v
		}
		if err := fn(num, typ, raw); err != nil {
			return err
		}
		data = data[m:]
	}
	return nil
}

func varintValue(typ protowire.Type, raw []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func intValue(typ protowire.Type, raw []byte) (int, error) {
	v, err := varintValue(typ, raw)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return int(v), nil
}

func stringValue(typ protowire.Type, raw []byte) (string, error) {
	if typ != protowire.BytesType {
		return "", fmt.Errorf("wire type %d, want bytes", typ)
	}
	return string(raw), nil
}

func doubleValue(typ protowire.Type, raw []byte) (float64, error) {
	if typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("wire type %d, want fixed64", typ)
	}
	v, n := protowire.ConsumeFixed64(raw)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), nil
}

func packedDoubles(typ protowire.Type, raw []byte) ([]float64, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("wire type %d, want packed doubles", typ)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("packed doubles length %d is not a multiple of 8", len(raw))
	}
	out := make([]float64, 0, len(raw)/8)
	for len(raw) > 0 {
		v, n := protowire.ConsumeFixed64(raw)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		raw = raw[n:]
	}
	return out, nil
}

func packedVarints(typ protowire.Type, raw []byte) ([]uint64, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("wire type %d, want packed varints", typ)
	}
	var out []uint64
	for len(raw) > 0 {
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		raw = raw[n:]
	}
	return out, nil
}
