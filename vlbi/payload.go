package vlbi

import (
	"fmt"
	"io"
)

// Codec converts between packed words and sample components.
type Codec interface {
	Decode(words []uint32) []float32
	Encode(values []float32) ([]uint32, error)
}

type CodecKey struct {
	BPS     int
	Complex bool
}

// CodecSet is the closed set of codecs a format supports.
type CodecSet struct {
	codecs map[CodecKey]Codec
}

func NewCodecSet() *CodecSet {
	return &CodecSet{codecs: map[CodecKey]Codec{}}
}

func (s *CodecSet) Register(bps int, complex bool, c Codec) *CodecSet {
	s.codecs[CodecKey{BPS: bps, Complex: complex}] = c
	return s
}

func (s *CodecSet) Lookup(bps int, complex bool) (Codec, error) {
	if s != nil {
		if c, ok := s.codecs[CodecKey{BPS: bps, Complex: complex}]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: bps=%d complex=%t", ErrUnsupportedCodec, bps, complex)
}

// Payload holds the packed samples of one frame.
type Payload struct {
	words       []uint32
	bps         int
	sampleShape []int
	complex     bool
	codecs      *CodecSet
}

// NewPayload copies words. The payload must hold a whole number of samples.
func NewPayload(codecs *CodecSet, words []uint32, bps int, sampleShape []int, complex bool) (*Payload, error) {
	if bps <= 0 {
		return nil, fmt.Errorf("%w: bits per sample %d", ErrValidation, bps)
	}
	if len(sampleShape) == 0 {
		sampleShape = []int{1}
	}
	for _, n := range sampleShape {
		if n <= 0 {
			return nil, fmt.Errorf("%w: sample shape %v", ErrValidation, sampleShape)
		}
	}
	p := &Payload{
		words:       append([]uint32(nil), words...),
		bps:         bps,
		sampleShape: cloneInts(sampleShape),
		complex:     complex,
		codecs:      codecs,
	}
	if bits := 32 * len(words); bits%p.BitsPerFullSample() != 0 {
		return nil, fmt.Errorf("%w: %d bytes do not hold whole samples of %d bits", ErrValidation, 4*len(words), p.BitsPerFullSample())
	}
	return p, nil
}

// PayloadFromData encodes data, whose first axis counts samples.
func PayloadFromData(codecs *CodecSet, data *Array, bps int) (*Payload, error) {
	if data.NDim() == 0 {
		return nil, fmt.Errorf("%w: payload data needs a sample axis", ErrShape)
	}
	codec, err := codecs.Lookup(bps, data.IsComplex())
	if err != nil {
		return nil, err
	}
	words, err := codec.Encode(data.Values())
	if err != nil {
		return nil, err
	}
	p, err := NewPayload(codecs, nil, bps, data.Shape()[1:], data.IsComplex())
	if err != nil {
		return nil, err
	}
	p.words = words
	return p, nil
}

// ReadPayload reads size bytes of words.
func ReadPayload(r io.Reader, codecs *CodecSet, size, bps int, sampleShape []int, complex bool) (*Payload, error) {
	words, err := ReadWords(r, size/4)
	if err != nil {
		return nil, err
	}
	return NewPayload(codecs, words, bps, sampleShape, complex)
}

func (p *Payload) WriteTo(w io.Writer) (int64, error) {
	return WriteWords(w, p.words)
}

func (p *Payload) Words() []uint32 { return append([]uint32(nil), p.words...) }

func (p *Payload) Size() int { return 4 * len(p.words) }

func (p *Payload) BPS() int { return p.bps }

func (p *Payload) SampleShape() []int { return cloneInts(p.sampleShape) }

func (p *Payload) IsComplex() bool { return p.complex }

func (p *Payload) Codecs() *CodecSet { return p.codecs }

func (p *Payload) BitsPerFullSample() int {
	n := p.bps * numel(p.sampleShape)
	if p.complex {
		n *= 2
	}
	return n
}

func (p *Payload) NSample() int {
	return 32 * len(p.words) / p.BitsPerFullSample()
}

// Shape is the shape of the decoded data.
func (p *Payload) Shape() []int {
	return append([]int{p.NSample()}, p.sampleShape...)
}

// FillWords overwrites every word with v.
func (p *Payload) FillWords(v uint32) {
	for i := range p.words {
		p.words[i] = v
	}
}

// AllWords reports whether every word equals v.
func (p *Payload) AllWords(v uint32) bool {
	for _, w := range p.words {
		if w != v {
			return false
		}
	}
	return len(p.words) > 0
}

func (p *Payload) Copy() *Payload {
	out := *p
	out.words = append([]uint32(nil), p.words...)
	out.sampleShape = cloneInts(p.sampleShape)
	return &out
}

func (p *Payload) Equal(o *Payload) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.bps == o.bps && p.complex == o.complex &&
		intsEqual(p.sampleShape, o.sampleShape) && wordsEqual(p.words, o.words)
}

func (p *Payload) decode(words []uint32) (*Array, error) {
	codec, err := p.codecs.Lookup(p.bps, p.complex)
	if err != nil {
		return nil, err
	}
	values := codec.Decode(words)
	per := numel(p.sampleShape)
	if p.complex {
		per *= 2
	}
	rows := len(values) / per
	shape := append([]int{rows}, p.sampleShape...)
	return &Array{shape: shape, complex: p.complex, data: values[:rows*per]}, nil
}

// Data decodes the whole payload.
func (p *Payload) Data() (*Array, error) {
	return p.decode(p.words)
}

// locate finds the smallest word range holding the samples picked by the
// first selection and rewrites the selections relative to that range.
func (p *Payload) locate(sels []Sel) (lo, hi int, rest []Sel, err error) {
	if len(sels) == 0 {
		return 0, len(p.words), nil, nil
	}
	nsample := p.NSample()
	first := sels[0]
	start, step, count, err := first.resolve(nsample)
	if err != nil {
		return 0, 0, nil, err
	}
	if !first.IsIndex() && step < 0 {
		return 0, len(p.words), sels, nil
	}
	stop := start
	if count > 0 {
		stop = start + (count-1)*step + 1
	}
	n := stop - start
	offset := 0
	bpfs := p.BitsPerFullSample()
	switch {
	case n == nsample:
		lo, hi = 0, len(p.words)
		offset = start
	case bpfs%32 == 0:
		wpfs := bpfs / 32
		lo, hi = start*wpfs, stop*wpfs
	case 32%bpfs == 0:
		fspw := 32 / bpfs
		lo, offset = start/fspw, start%fspw
		hi = stop / fspw
		if stop%fspw != 0 {
			hi++
		}
	default:
		return 0, 0, nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedRatio, bpfs)
	}
	var sel Sel
	if first.IsIndex() {
		sel = Idx(offset)
	} else {
		sel = Span(offset, offset+n).By(step)
	}
	rest = append([]Sel{sel}, sels[1:]...)
	return lo, hi, rest, nil
}

// Get decodes only the words needed for the selection.
func (p *Payload) Get(sels ...Sel) (*Array, error) {
	lo, hi, rest, err := p.locate(sels)
	if err != nil {
		return nil, err
	}
	block, err := p.decode(p.words[lo:hi])
	if err != nil {
		return nil, err
	}
	if rest == nil {
		return block, nil
	}
	return block.Index(rest...)
}

// Set encodes value into the selected samples, touching only the words the
// selection covers.
func (p *Payload) Set(value *Array, sels ...Sel) error {
	codec, err := p.codecs.Lookup(p.bps, p.complex)
	if err != nil {
		return err
	}
	lo, hi, rest, err := p.locate(sels)
	if err != nil {
		return err
	}
	if lo == 0 && hi == len(p.words) && coversAll(rest, p.Shape()) &&
		value.complex == p.complex && intsEqual(value.shape, p.Shape()) {
		words, err := codec.Encode(value.data)
		if err != nil {
			return err
		}
		copy(p.words, words)
		return nil
	}
	block, err := p.decode(p.words[lo:hi])
	if err != nil {
		return err
	}
	if err := block.Assign(value, rest...); err != nil {
		return err
	}
	words, err := codec.Encode(block.data)
	if err != nil {
		return err
	}
	copy(p.words[lo:hi], words)
	return nil
}

func coversAll(sels []Sel, shape []int) bool {
	if len(sels) > len(shape) {
		return false
	}
	for d, sel := range sels {
		if sel.IsIndex() {
			return false
		}
		start, step, count, err := sel.resolve(shape[d])
		if err != nil || start != 0 || step != 1 || count != shape[d] {
			return false
		}
	}
	return true
}
