package vlbi

import (
	"fmt"
	"math"
)

type selKind uint8

const (
	selSlice selKind = iota
	selIndex
)

// Sel picks positions along one axis, either a single index (which drops
// the axis) or a strided range. The zero value selects the whole axis.
// Negative positions count from the end; range bounds are clamped.
type Sel struct {
	kind     selKind
	index    int
	start    int
	stop     int
	step     int
	hasStart bool
	hasStop  bool
	hasStep  bool
}

func Idx(i int) Sel { return Sel{kind: selIndex, index: i} }

func Span(start, stop int) Sel {
	return Sel{start: start, stop: stop, hasStart: true, hasStop: true}
}

func SpanFrom(start int) Sel { return Sel{start: start, hasStart: true} }

func SpanTo(stop int) Sel { return Sel{stop: stop, hasStop: true} }

func All() Sel { return Sel{} }

// By sets the stride of a range.
func (s Sel) By(step int) Sel {
	s.step = step
	s.hasStep = true
	return s
}

func (s Sel) IsIndex() bool { return s.kind == selIndex }

func (s Sel) String() string {
	if s.kind == selIndex {
		return fmt.Sprint(s.index)
	}
	out := ""
	if s.hasStart {
		out += fmt.Sprint(s.start)
	}
	out += ":"
	if s.hasStop {
		out += fmt.Sprint(s.stop)
	}
	if s.hasStep {
		out += fmt.Sprintf(":%d", s.step)
	}
	return out
}

// resolve maps the selection onto an axis of length n.
func (s Sel) resolve(n int) (start, step, count int, err error) {
	if s.kind == selIndex {
		i := s.index
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return 0, 0, 0, fmt.Errorf("%w: index %d for axis of length %d", ErrIndex, s.index, n)
		}
		return i, 1, 1, nil
	}
	step = 1
	if s.hasStep {
		if s.step == 0 {
			return 0, 0, 0, fmt.Errorf("%w: slice step cannot be zero", ErrIndex)
		}
		step = s.step
	}
	if step > 0 {
		start, stop := 0, n
		if s.hasStart {
			start = clampBound(s.start, n, 0, n)
		}
		if s.hasStop {
			stop = clampBound(s.stop, n, 0, n)
		}
		if stop > start {
			count = (stop - start + step - 1) / step
		}
		return start, step, count, nil
	}
	start, stop := n-1, -1
	if s.hasStart {
		start = clampBound(s.start, n, -1, n-1)
	}
	if s.hasStop {
		stop = clampBound(s.stop, n, -1, n-1)
	}
	if start > stop {
		count = (start - stop - step - 1) / -step
	}
	return start, step, count, nil
}

func clampBound(v, n, lo, hi int) int {
	if v < 0 {
		v += n
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Array is a dense row-major block of samples. Complex arrays interleave
// real and imaginary parts in Values.
type Array struct {
	shape   []int
	complex bool
	data    []float32
}

func NewArray(shape ...int) *Array {
	return &Array{shape: cloneInts(shape), data: make([]float32, numel(shape))}
}

func NewComplexArray(shape ...int) *Array {
	return &Array{shape: cloneInts(shape), complex: true, data: make([]float32, 2*numel(shape))}
}

// Full returns a real array with every element set to v.
func Full(v float32, shape ...int) *Array {
	a := NewArray(shape...)
	a.Fill(v)
	return a
}

// ArrayOf wraps values without copying.
func ArrayOf(values []float32, shape ...int) (*Array, error) {
	if len(values) != numel(shape) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(values), shape)
	}
	return &Array{shape: cloneInts(shape), data: values}, nil
}

func ComplexArrayOf(values []complex64, shape ...int) (*Array, error) {
	if len(values) != numel(shape) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(values), shape)
	}
	a := NewComplexArray(shape...)
	for i, v := range values {
		a.data[2*i] = real(v)
		a.data[2*i+1] = imag(v)
	}
	return a, nil
}

func (a *Array) Shape() []int { return cloneInts(a.shape) }

func (a *Array) NDim() int { return len(a.shape) }

// Len is the length of the first axis.
func (a *Array) Len() int {
	if len(a.shape) == 0 {
		return 0
	}
	return a.shape[0]
}

// Size is the number of elements, counting a complex value once.
func (a *Array) Size() int { return numel(a.shape) }

func (a *Array) IsComplex() bool { return a.complex }

// Values exposes the backing storage.
func (a *Array) Values() []float32 { return a.data }

func (a *Array) Complex64s() []complex64 {
	out := make([]complex64, a.Size())
	w := a.width()
	for i := range out {
		if a.complex {
			out[i] = complex(a.data[w*i], a.data[w*i+1])
		} else {
			out[i] = complex(a.data[i], 0)
		}
	}
	return out
}

func (a *Array) width() int {
	if a.complex {
		return 2
	}
	return 1
}

func (a *Array) strides() []int {
	return rowMajorStrides(a.shape)
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("vlbi: %d indices for %d-d array", len(idx), len(a.shape)))
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= a.shape[d] {
			panic(fmt.Sprintf("vlbi: index %d out of range for axis %d of length %d", i, d, a.shape[d]))
		}
		off = off*a.shape[d] + i
	}
	return off
}

// At returns the real part of one element.
func (a *Array) At(idx ...int) float32 {
	return a.data[a.offset(idx)*a.width()]
}

func (a *Array) ComplexAt(idx ...int) complex64 {
	off := a.offset(idx) * a.width()
	if !a.complex {
		return complex(a.data[off], 0)
	}
	return complex(a.data[off], a.data[off+1])
}

func (a *Array) SetAt(v float32, idx ...int) {
	off := a.offset(idx) * a.width()
	a.data[off] = v
	if a.complex {
		a.data[off+1] = 0
	}
}

func (a *Array) SetComplexAt(v complex64, idx ...int) {
	if !a.complex {
		panic("vlbi: complex value stored in real array")
	}
	off := a.offset(idx) * 2
	a.data[off] = real(v)
	a.data[off+1] = imag(v)
}

// Fill sets every element to v (zero imaginary part).
func (a *Array) Fill(v float32) {
	w := a.width()
	for i := 0; i < len(a.data); i += w {
		a.data[i] = v
		if w == 2 {
			a.data[i+1] = 0
		}
	}
}

// Reshape returns a view with a new shape; one axis may be -1.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	shape = cloneInts(shape)
	infer := -1
	known := 1
	for d, n := range shape {
		switch {
		case n == -1 && infer < 0:
			infer = d
		case n < 0:
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, a.shape, shape)
		default:
			known *= n
		}
	}
	size := a.Size()
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, a.shape, shape)
		}
		shape[infer] = size / known
	}
	if numel(shape) != size {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, a.shape, shape)
	}
	return &Array{shape: shape, complex: a.complex, data: a.data}, nil
}

func (a *Array) Copy() *Array {
	return &Array{
		shape:   cloneInts(a.shape),
		complex: a.complex,
		data:    append([]float32(nil), a.data...),
	}
}

func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.complex != b.complex || !intsEqual(a.shape, b.shape) || len(a.data) != len(b.data) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// AlmostEqual compares element-wise within tol.
func (a *Array) AlmostEqual(b *Array, tol float64) bool {
	if a.complex != b.complex || !intsEqual(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(float64(a.data[i])-float64(b.data[i])) > tol {
			return false
		}
	}
	return true
}

type axisSel struct {
	start int
	step  int
	count int
	keep  bool
}

func (a *Array) resolve(sels []Sel) ([]axisSel, []int, error) {
	if len(sels) > len(a.shape) {
		return nil, nil, fmt.Errorf("%w: %d indices for %d-d array", ErrIndex, len(sels), len(a.shape))
	}
	axes := make([]axisSel, len(a.shape))
	out := make([]int, 0, len(a.shape))
	for d, n := range a.shape {
		sel := All()
		if d < len(sels) {
			sel = sels[d]
		}
		start, step, count, err := sel.resolve(n)
		if err != nil {
			return nil, nil, fmt.Errorf("axis %d: %w", d, err)
		}
		axes[d] = axisSel{start: start, step: step, count: count, keep: !sel.IsIndex()}
		if !sel.IsIndex() {
			out = append(out, count)
		}
	}
	return axes, out, nil
}

// walk visits every selected element in row-major order, passing its element
// offset in a and the per-axis counters.
func (a *Array) walk(axes []axisSel, fn func(off int, idx []int)) {
	for _, ax := range axes {
		if ax.count == 0 {
			return
		}
	}
	strides := a.strides()
	idx := make([]int, len(axes))
	for {
		off := 0
		for d, ax := range axes {
			off += (ax.start + idx[d]*ax.step) * strides[d]
		}
		fn(off, idx)
		d := len(axes) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < axes[d].count {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// Index returns a copy of the selected elements. Index selections drop
// their axis; missing trailing selections take the whole axis.
func (a *Array) Index(sels ...Sel) (*Array, error) {
	axes, shape, err := a.resolve(sels)
	if err != nil {
		return nil, err
	}
	w := a.width()
	out := &Array{shape: shape, complex: a.complex, data: make([]float32, numel(shape)*w)}
	pos := 0
	a.walk(axes, func(off int, _ []int) {
		copy(out.data[pos*w:pos*w+w], a.data[off*w:off*w+w])
		pos++
	})
	return out, nil
}

// Assign writes src into the selected elements, broadcasting src the way
// numpy does: trailing axes must match or be 1.
func (a *Array) Assign(src *Array, sels ...Sel) error {
	if src.complex && !a.complex {
		return fmt.Errorf("%w: complex values assigned to real array", ErrValidation)
	}
	axes, target, err := a.resolve(sels)
	if err != nil {
		return err
	}
	bstrides, err := broadcastStrides(src.shape, target)
	if err != nil {
		return err
	}
	kept := make([]int, 0, len(target))
	for d, ax := range axes {
		if ax.keep {
			kept = append(kept, d)
		}
	}
	w, sw := a.width(), src.width()
	a.walk(axes, func(off int, idx []int) {
		s := 0
		for t, d := range kept {
			s += idx[d] * bstrides[t]
		}
		a.data[off*w] = src.data[s*sw]
		if w == 2 {
			if sw == 2 {
				a.data[off*w+1] = src.data[s*sw+1]
			} else {
				a.data[off*w+1] = 0
			}
		}
	})
	return nil
}

// Take selects positions along one axis, in the given order.
func (a *Array) Take(axis int, indices []int) (*Array, error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("%w: axis %d for %d-d array", ErrIndex, axis, len(a.shape))
	}
	n := a.shape[axis]
	norm := make([]int, len(indices))
	for j, k := range indices {
		if k < 0 {
			k += n
		}
		if k < 0 || k >= n {
			return nil, fmt.Errorf("%w: index %d for axis of length %d", ErrIndex, indices[j], n)
		}
		norm[j] = k
	}
	shape := cloneInts(a.shape)
	shape[axis] = len(norm)
	w := a.width()
	out := &Array{shape: shape, complex: a.complex, data: make([]float32, numel(shape)*w)}
	outer := numel(a.shape[:axis])
	inner := numel(a.shape[axis+1:]) * w
	for o := 0; o < outer; o++ {
		for j, k := range norm {
			dst := (o*len(norm) + j) * inner
			src := (o*n + k) * inner
			copy(out.data[dst:dst+inner], a.data[src:src+inner])
		}
	}
	return out, nil
}

func broadcastStrides(src, target []int) ([]int, error) {
	if len(src) > len(target) {
		extra := len(src) - len(target)
		for _, n := range src[:extra] {
			if n != 1 {
				return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShape, src, target)
			}
		}
		src = src[extra:]
	}
	sstrides := rowMajorStrides(src)
	out := make([]int, len(target))
	lead := len(target) - len(src)
	for d := range target {
		if d < lead {
			continue
		}
		switch n := src[d-lead]; {
		case n == target[d]:
			out[d] = sstrides[d-lead]
		case n == 1:
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShape, src, target)
		}
	}
	return out, nil
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	return strides
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func cloneInts(s []int) []int {
	return append([]int{}, s...)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
