// Package aggregate keeps running statistics of observable components, with
// optional DDSketch percentiles.
package aggregate

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Summary maintains running statistics for one component of an observable.
// It is not safe for concurrent use; the driver serializes access under its
// own lock.
type Summary struct {
	// Identity
	observable string
	component  int

	// Running statistics
	count     int64
	sum       float64
	min       float64
	max       float64
	firstStep int64
	lastStep  int64

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// New creates a Summary. An accuracy in (0, 1) enables percentiles with that
// relative accuracy; zero disables them.
func New(observable string, component int, accuracy float64) *Summary {
	s := &Summary{
		observable: observable,
		component:  component,
		min:        math.MaxFloat64,
		max:        -math.MaxFloat64,
		accuracy:   accuracy,
	}
	s.sketch = newSketch(accuracy)
	return s
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	if accuracy <= 0 {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds the value sampled at step.
func (s *Summary) Add(value float64, step int64) {
	if s.count == 0 || step < s.firstStep {
		s.firstStep = step
	}
	if s.count == 0 || step > s.lastStep {
		s.lastStep = step
	}

	s.count++
	s.sum += value

	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}

	if s.sketch != nil {
		// DDSketch rejects NaN and infinities; they still count above.
		_ = s.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (s *Summary) Count() int64 {
	return s.count
}

// IsEmpty returns true if no values have been added.
func (s *Summary) IsEmpty() bool {
	return s.count == 0
}

// Result returns the summary statistics.
func (s *Summary) Result() Result {
	r := Result{
		Observable: s.observable,
		Component:  s.component,
		Count:      s.count,
		Sum:        s.sum,
		FirstStep:  s.firstStep,
		LastStep:   s.lastStep,
	}

	if s.count > 0 {
		r.Avg = s.sum / float64(s.count)
		r.Min = s.min
		r.Max = s.max
	}

	if s.sketch != nil && !s.sketch.IsEmpty() {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p95, _ := s.sketch.GetValueAtQuantile(0.95)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		r.SetPercentiles(p50, p90, p95, p99)
	}

	return r
}

// Reset forgets all values.
func (s *Summary) Reset() {
	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = -math.MaxFloat64
	s.firstStep = 0
	s.lastStep = 0

	// DDSketch has no Clear; start a new one.
	s.sketch = newSketch(s.accuracy)
}

// Result holds the statistics of one observable component.
type Result struct {
	Observable string
	Component  int

	// Basic statistics (always present)
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles (nil if not enabled)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64

	// Steps of the first and last value
	FirstStep int64
	LastStep  int64
}

// HasPercentiles returns true if percentile data is available.
func (r *Result) HasPercentiles() bool {
	return r.P50 != nil
}

// SetPercentiles sets all percentile values.
func (r *Result) SetPercentiles(p50, p90, p95, p99 float64) {
	r.P50 = &p50
	r.P90 = &p90
	r.P95 = &p95
	r.P99 = &p99
}

// Set holds one Summary per component of an observable.
type Set struct {
	name       string
	components []*Summary
}

// NewSet creates summaries for an observable of width dim.
func NewSet(name string, dim int, accuracy float64) *Set {
	s := &Set{name: name, components: make([]*Summary, dim)}
	for i := range s.components {
		s.components[i] = New(name, i, accuracy)
	}
	return s
}

// Name returns the observable name.
func (s *Set) Name() string {
	return s.name
}

// Add adds every component of x sampled at step. Extra components are
// ignored.
func (s *Set) Add(x []float64, step int64) {
	for i, c := range s.components {
		if i < len(x) {
			c.Add(x[i], step)
		}
	}
}

// Reset forgets the values of every component.
func (s *Set) Reset() {
	for _, c := range s.components {
		c.Reset()
	}
}

// Results returns the statistics of every component.
func (s *Set) Results() []Result {
	out := make([]Result, len(s.components))
	for i, c := range s.components {
		out[i] = c.Result()
	}
	return out
}
