// Package eig implements the eigenvalue operator: a backend.CustomOperator computing the eigenvalues of a
// real square matrix A, split in real and imaginary parts, along with their analytic derivatives with
// respect to the entries of A.
//
// For A = V Λ V⁻¹, with the right eigenvectors in the columns of V, the derivative of the j-th eigenvalue
// with respect to A[k, i] is V[i, j] V⁻¹[j, k]. Repeated eigenvalues, or an ill-conditioned V, make this
// formula meaningless: they are reported as a *DegeneracyError (matching ErrDegenerate), no deflation is
// attempted.
//
// The decomposition is gonum's mat.Eigen, a port of LAPACK's Dgeev: the order of the eigenvalues is the
// one it returns, which is deterministic for identical input.
package eig

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Names of the operator ports.
const (
	InputName     = "A"
	RealOutput    = "e_real"
	ImagOutput    = "e_imag"
	SizeParameter = "size"
)

var (
	// ErrDegenerate is matched (with errors.Is) by every DegeneracyError.
	ErrDegenerate = errors.New("degenerate eigen-decomposition")

	// MaxCondition of the eigenvectors matrix V above which the derivatives are considered degenerate.
	MaxCondition = 1e12

	// RepeatedTolerance is the relative distance under which two eigenvalues are considered repeated.
	RepeatedTolerance = 1e-10
)

// DegeneracyError reports a decomposition whose derivatives cannot be computed reliably.
type DegeneracyError struct {
	// Condition number of the eigenvectors matrix, if it was computed, or +Inf.
	Condition float64
	Reason    string
}

// Error implements error.
func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("%s: %s (condition number of eigenvectors %g)", ErrDegenerate, e.Reason, e.Condition)
}

// Unwrap returns ErrDegenerate.
func (e *DegeneracyError) Unwrap() error {
	return ErrDegenerate
}

// Decomposition of a real square matrix in eigenvalues and right eigenvectors.
type Decomposition struct {
	n       int
	values  []complex128
	vectors *mat.CDense
}

// Decompose computes the eigenvalues and right eigenvectors of the square matrix a.
func Decompose(a mat.Matrix) (*Decomposition, error) {
	rows, cols := a.Dims()
	if rows != cols || rows == 0 {
		return nil, errors.Wrapf(backend.ErrShapeMismatch, "eig: matrix must be square, got %dx%d", rows, cols)
	}
	var e mat.Eigen
	if ok := e.Factorize(a, mat.EigenRight); !ok {
		return nil, &DegeneracyError{Condition: math.Inf(1), Reason: "eigen-decomposition did not converge"}
	}
	d := &Decomposition{n: rows, values: e.Values(nil), vectors: &mat.CDense{}}
	e.VectorsTo(d.vectors)
	return d, nil
}

// Size returns n, for an n x n matrix.
func (d *Decomposition) Size() int {
	return d.n
}

// Values returns the eigenvalues, in the order of the decomposition.
func (d *Decomposition) Values() []complex128 {
	return append([]complex128(nil), d.values...)
}

// Real returns the real parts of the eigenvalues.
func (d *Decomposition) Real() []float64 {
	parts := make([]float64, d.n)
	for i, w := range d.values {
		parts[i] = real(w)
	}
	return parts
}

// Imag returns the imaginary parts of the eigenvalues.
func (d *Decomposition) Imag() []float64 {
	parts := make([]float64, d.n)
	for i, w := range d.values {
		parts[i] = imag(w)
	}
	return parts
}

// checkRepeated returns a DegeneracyError if two eigenvalues are (numerically) the same.
func (d *Decomposition) checkRepeated() error {
	for j := range d.n {
		for k := j + 1; k < d.n; k++ {
			wj, wk := d.values[j], d.values[k]
			scale := max(1, cmplx.Abs(wj), cmplx.Abs(wk))
			if cmplx.Abs(wj-wk) <= RepeatedTolerance*scale {
				return &DegeneracyError{
					Condition: math.Inf(1),
					Reason:    fmt.Sprintf("repeated eigenvalue %v at positions %d and %d", wj, j, k),
				}
			}
		}
	}
	return nil
}

// inverseVectors returns V⁻¹ as its real and imaginary parts P and Q.
//
// It inverts the real embedding [[X, -Y], [Y, X]] of V = X + iY, whose inverse is [[P, -Q], [Q, P]].
func (d *Decomposition) inverseVectors() (p, q *mat.Dense, err error) {
	n := d.n
	embedding := mat.NewDense(2*n, 2*n, nil)
	for i := range n {
		for j := range n {
			v := d.vectors.At(i, j)
			embedding.Set(i, j, real(v))
			embedding.Set(i+n, j+n, real(v))
			embedding.Set(i, j+n, -imag(v))
			embedding.Set(i+n, j, imag(v))
		}
	}
	condition := mat.Cond(embedding, 2)
	if math.IsNaN(condition) || condition > MaxCondition {
		return nil, nil, &DegeneracyError{Condition: condition, Reason: "eigenvectors matrix is ill-conditioned"}
	}
	var inverse mat.Dense
	if err = inverse.Inverse(embedding); err != nil {
		return nil, nil, &DegeneracyError{Condition: condition, Reason: "eigenvectors matrix is singular: " + err.Error()}
	}
	p = mat.DenseCopyOf(inverse.Slice(0, n, 0, n))
	q = mat.DenseCopyOf(inverse.Slice(n, 2*n, 0, n))
	return p, q, nil
}

// Jacobians returns the derivatives of the real and imaginary parts of the eigenvalues with respect to the
// entries of A, each an n x n² matrix whose columns index A flattened in row-major order.
//
// Row j, column i + k*n holds V[i, j] V⁻¹[j, k], the derivative of eigenvalue j with respect to A[k, i].
// V is inverted once per call.
func (d *Decomposition) Jacobians() (jacReal, jacImag *mat.Dense, err error) {
	if err = d.checkRepeated(); err != nil {
		return nil, nil, err
	}
	p, q, err := d.inverseVectors()
	if err != nil {
		return nil, nil, err
	}
	n := d.n
	jacReal = mat.NewDense(n, n*n, nil)
	jacImag = mat.NewDense(n, n*n, nil)
	for j := range n {
		for i := range n {
			vij := d.vectors.At(i, j)
			for k := range n {
				partial := vij * complex(p.At(j, k), q.At(j, k))
				jacReal.Set(j, i+k*n, real(partial))
				jacImag.Set(j, i+k*n, imag(partial))
			}
		}
	}
	return jacReal, jacImag, nil
}

// Operator is the eigenvalue backend.CustomOperator for matrices of a fixed size.
type Operator struct {
	size int
}

var _ backend.CustomOperator = (*Operator)(nil)

// New returns the operator for size x size matrices.
func New(size int) (*Operator, error) {
	if size <= 0 {
		return nil, errors.Errorf("eig: invalid matrix size %d", size)
	}
	return &Operator{size: size}, nil
}

// Size of the matrices the operator takes.
func (op *Operator) Size() int {
	return op.size
}

// Name implements backend.CustomOperator.
func (op *Operator) Name() string {
	return "eig"
}

// Define implements backend.CustomOperator.
func (op *Operator) Define(spec *backend.OperatorSpec) error {
	spec.DeclareParameter(SizeParameter, op.size)
	if err := spec.AddInput(InputName, shapes.Float64(op.size, op.size)); err != nil {
		return err
	}
	if err := spec.AddOutput(RealOutput, shapes.Float64(op.size)); err != nil {
		return err
	}
	if err := spec.AddOutput(ImagOutput, shapes.Float64(op.size)); err != nil {
		return err
	}
	if err := spec.DeclareDerivatives(RealOutput, InputName); err != nil {
		return err
	}
	return spec.DeclareDerivatives(ImagOutput, InputName)
}

// decompose the input matrix after checking its shape.
func (op *Operator) decompose(inputs map[string]*backend.Tensor) (*Decomposition, error) {
	a, found := inputs[InputName]
	if !found || a == nil {
		return nil, errors.Wrapf(backend.ErrUnknownPort, "eig: missing input %q", InputName)
	}
	if want := shapes.Float64(op.size, op.size); !a.Shape.Equal(want) {
		return nil, errors.Wrapf(backend.ErrShapeMismatch, "eig: input %q has shape %s, expected %s", InputName, a.Shape, want)
	}
	return Decompose(mat.NewDense(op.size, op.size, append([]float64(nil), a.Flat...)))
}

// Compute implements backend.CustomOperator.
func (op *Operator) Compute(inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	d, err := op.decompose(inputs)
	if err != nil {
		return nil, err
	}
	return map[string]*backend.Tensor{
		RealOutput: {Shape: shapes.Float64(op.size), Flat: d.Real()},
		ImagOutput: {Shape: shapes.Float64(op.size), Flat: d.Imag()},
	}, nil
}

// ComputeDerivatives implements backend.CustomOperator.
func (op *Operator) ComputeDerivatives(inputs map[string]*backend.Tensor) (map[backend.Partial]*mat.Dense, error) {
	d, err := op.decompose(inputs)
	if err != nil {
		return nil, err
	}
	jacReal, jacImag, err := d.Jacobians()
	if err != nil {
		return nil, err
	}
	return map[backend.Partial]*mat.Dense{
		{Of: RealOutput, Wrt: InputName}: jacReal,
		{Of: ImagOutput, Wrt: InputName}: jacImag,
	}, nil
}

// NewBlock returns a fragment exposing the operator for size x size matrices: input "A", outputs "e_real" and "e_imag".
func NewBlock(name string, size int) (*backend.Fragment, error) {
	op, err := New(size)
	if err != nil {
		return nil, err
	}
	return backend.NewCustomBlock(name, op)
}
