package correlator

import (
	"fmt"
	"math"

	"github.com/xtxerr/taucorr/internal/errors"
)

// Operation selects the binary function applied to a pair of samples.
type Operation int

const (
	// OpSquareDistanceComponentwise computes (a[i]-b[i])^2 per component.
	// With positions as the observable this yields the mean-square
	// displacement per coordinate.
	OpSquareDistanceComponentwise Operation = iota + 1

	// OpScalarProduct computes sum(a[i]*b[i]) as a single value.
	OpScalarProduct

	// OpComponentwiseProduct computes a[i]*b[i] per component.
	OpComponentwiseProduct

	// OpTensorProduct computes a[i]*b[j] for every i, j (row-major).
	OpTensorProduct

	// OpFCSACF computes exp(-sum_j (a_j-b_j)^2 / w_j) for every triple of
	// components, the fluorescence correlation spectroscopy kernel.
	OpFCSACF
)

var operationNames = map[Operation]string{
	OpSquareDistanceComponentwise: "square_distance_componentwise",
	OpScalarProduct:               "scalar_product",
	OpComponentwiseProduct:        "componentwise_product",
	OpTensorProduct:               "tensor_product",
	OpFCSACF:                      "fcs_acf",
}

// String returns the configuration name of the operation.
func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(op))
}

// ParseOperation parses an operation name.
func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return 0, errors.NewInvalidValue("operator", s, "must be one of "+operationList())
}

// AllOperations returns all operations in declaration order.
func AllOperations() []Operation {
	return []Operation{
		OpSquareDistanceComponentwise,
		OpScalarProduct,
		OpComponentwiseProduct,
		OpTensorProduct,
		OpFCSACF,
	}
}

func operationList() string {
	s := ""
	for i, op := range AllOperations() {
		if i > 0 {
			s += ", "
		}
		s += op.String()
	}
	return s
}

// OutputWidth returns the number of values the operation produces for
// operands of width dimA and dimB, or an error if the widths are not
// acceptable for this operation.
func (op Operation) OutputWidth(dimA, dimB int) (int, error) {
	switch op {
	case OpSquareDistanceComponentwise, OpComponentwiseProduct:
		if dimA != dimB {
			return 0, sameWidthError(op, dimA, dimB)
		}
		return dimA, nil
	case OpScalarProduct:
		if dimA != dimB {
			return 0, sameWidthError(op, dimA, dimB)
		}
		return 1, nil
	case OpTensorProduct:
		return dimA * dimB, nil
	case OpFCSACF:
		if dimA != dimB {
			return 0, sameWidthError(op, dimA, dimB)
		}
		if dimA%3 != 0 {
			return 0, errors.NewInvalidValue("dim", dimA, "fcs_acf needs a multiple of 3")
		}
		return dimA / 3, nil
	default:
		return 0, errors.NewInvalidValue("operator", op.String(), "must be one of "+operationList())
	}
}

func sameWidthError(op Operation, dimA, dimB int) error {
	return errors.NewValidation("dim_b", fmt.Sprintf("%s needs operands of equal width, got %d and %d", op, dimA, dimB))
}

// apply writes op(a, b) into dst, which has the operation's output width.
func (op Operation) apply(dst, a, b []float64, args [3]float64) {
	switch op {
	case OpSquareDistanceComponentwise:
		for i := range dst {
			d := a[i] - b[i]
			dst[i] = d * d
		}
	case OpScalarProduct:
		var sum float64
		for i := range a {
			sum += a[i] * b[i]
		}
		dst[0] = sum
	case OpComponentwiseProduct:
		for i := range dst {
			dst[i] = a[i] * b[i]
		}
	case OpTensorProduct:
		n := len(b)
		for i := range a {
			row := dst[i*n : (i+1)*n]
			for j := range b {
				row[j] = a[i] * b[j]
			}
		}
	case OpFCSACF:
		for i := range dst {
			var exponent float64
			for j := 0; j < 3; j++ {
				d := a[3*i+j] - b[3*i+j]
				exponent -= d * d / args[j]
			}
			dst[i] = math.Exp(exponent)
		}
	}
}

// Apply evaluates the operation on a single pair and returns a new vector.
// It validates operand widths; the hot path inside the correlator does not.
func (op Operation) Apply(a, b []float64, args [3]float64) ([]float64, error) {
	width, err := op.OutputWidth(len(a), len(b))
	if err != nil {
		return nil, err
	}
	dst := make([]float64, width)
	op.apply(dst, a, b, args)
	return dst, nil
}

// Compression selects how two neighbouring samples are merged when they move
// one level up the hierarchy.
type Compression int

const (
	// CompressLinear stores the arithmetic mean of the pair.
	CompressLinear Compression = iota + 1

	// CompressDiscard1 drops the older sample and keeps the newer one.
	CompressDiscard1

	// CompressDiscard2 drops the newer sample and keeps the older one.
	CompressDiscard2
)

// String returns the configuration name of the compression rule.
func (c Compression) String() string {
	switch c {
	case CompressLinear:
		return "linear"
	case CompressDiscard1:
		return "discard1"
	case CompressDiscard2:
		return "discard2"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseCompression parses a compression rule name. The empty string selects
// the linear rule.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "linear", "":
		return CompressLinear, nil
	case "discard1":
		return CompressDiscard1, nil
	case "discard2":
		return CompressDiscard2, nil
	default:
		return 0, errors.NewInvalidValue("compression", s, "must be one of linear, discard1, discard2")
	}
}

func (c Compression) valid() bool {
	return c >= CompressLinear && c <= CompressDiscard2
}

// apply merges the older and newer samples into dst.
func (c Compression) apply(dst, older, newer []float64) {
	switch c {
	case CompressDiscard1:
		copy(dst, newer)
	case CompressDiscard2:
		copy(dst, older)
	default:
		for i := range dst {
			dst[i] = 0.5 * (older[i] + newer[i])
		}
	}
}
