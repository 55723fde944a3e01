package vlbi

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Field locates a value inside a header's 32-bit words. A field either fits
// in one word (Bit+Length <= 32) or is a 64-bit value starting at bit 0 of
// Word, with the high half in Word+1.
type Field struct {
	Word       int
	Bit        int
	Length     int
	Default    uint64
	HasDefault bool
}

func NewField(word, bit, length int) Field {
	return Field{Word: word, Bit: bit, Length: length}
}

func (f Field) WithDefault(v uint64) Field {
	f.Default = v
	f.HasDefault = true
	return f
}

func (f Field) validate() error {
	switch {
	case f.Word < 0 || f.Bit < 0 || f.Length <= 0:
		return fmt.Errorf("%w: word %d bit %d length %d", ErrFieldSpec, f.Word, f.Bit, f.Length)
	case f.Length == 64:
		if f.Bit != 0 {
			return fmt.Errorf("%w: 64-bit field must start at bit 0, got %d", ErrFieldSpec, f.Bit)
		}
	case f.Bit+f.Length > 32:
		return fmt.Errorf("%w: bits %d..%d do not fit in one word", ErrFieldSpec, f.Bit, f.Bit+f.Length)
	}
	if f.HasDefault && f.Length < 64 && f.Default>>uint(f.Length) != 0 {
		return fmt.Errorf("%w: default %#x wider than %d bits", ErrFieldSpec, f.Default, f.Length)
	}
	return nil
}

// lastWord is the highest word index the field touches.
func (f Field) lastWord() int {
	if f.Length == 64 {
		return f.Word + 1
	}
	return f.Word
}

func (f Field) mask() uint64 {
	if f.Length == 64 {
		return ^uint64(0)
	}
	return 1<<uint(f.Length) - 1
}

type Getter func(words []uint32) uint64

type Setter func(words []uint32, v uint64) error

func (f Field) getter() Getter {
	if f.Length == 64 {
		w := f.Word
		return func(words []uint32) uint64 {
			return uint64(words[w]) | uint64(words[w+1])<<32
		}
	}
	w, shift, mask := f.Word, uint(f.Bit), f.mask()
	return func(words []uint32) uint64 {
		return uint64(words[w]) >> shift & mask
	}
}

func (f Field) setter() Setter {
	if f.Length == 64 {
		w := f.Word
		return func(words []uint32, v uint64) error {
			words[w] = uint32(v)
			words[w+1] = uint32(v >> 32)
			return nil
		}
	}
	w, shift, mask, length := f.Word, uint(f.Bit), f.mask(), f.Length
	return func(words []uint32, v uint64) error {
		if v > mask {
			return fmt.Errorf("%w: %d needs more than %d bits", ErrValueRange, v, length)
		}
		words[w] = words[w]&^uint32(mask<<shift) | uint32(v<<shift)
		return nil
	}
}

// NamedField is one row of a header layout table.
type NamedField struct {
	Name string
	Field
}

// HeaderParser is an ordered table of named fields with precomputed
// accessors for each.
type HeaderParser struct {
	names   []string
	fields  map[string]Field
	getters map[string]Getter
	setters map[string]Setter
}

func NewHeaderParser(fields ...NamedField) (*HeaderParser, error) {
	p := &HeaderParser{
		fields:  make(map[string]Field, len(fields)),
		getters: make(map[string]Getter, len(fields)),
		setters: make(map[string]Setter, len(fields)),
	}
	for _, nf := range fields {
		if err := p.SetField(nf.Name, nf.Field); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MustHeaderParser is NewHeaderParser for static layout tables.
func MustHeaderParser(fields ...NamedField) *HeaderParser {
	p, err := NewHeaderParser(fields...)
	if err != nil {
		panic(err)
	}
	return p
}

// SetField adds or replaces a field. A new name goes to the end of the order.
func (p *HeaderParser) SetField(name string, f Field) error {
	if name == "" {
		return fmt.Errorf("%w: empty field name", ErrFieldSpec)
	}
	if err := f.validate(); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	if _, ok := p.fields[name]; !ok {
		p.names = append(p.names, name)
	}
	p.fields[name] = f
	p.getters[name] = f.getter()
	p.setters[name] = f.setter()
	return nil
}

func (p *HeaderParser) Field(name string) (Field, bool) {
	f, ok := p.fields[name]
	return f, ok
}

func (p *HeaderParser) Has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

func (p *HeaderParser) Keys() []string {
	return append([]string(nil), p.names...)
}

func (p *HeaderParser) Len() int { return len(p.names) }

func (p *HeaderParser) Getter(name string) (Getter, error) {
	g, ok := p.getters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return g, nil
}

func (p *HeaderParser) Setter(name string) (Setter, error) {
	s, ok := p.setters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return s, nil
}

func (p *HeaderParser) Default(name string) (uint64, error) {
	f, ok := p.fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if !f.HasDefault {
		return 0, fmt.Errorf("%w: %q", ErrNoDefault, name)
	}
	return f.Default, nil
}

// WordsNeeded is the minimum word count that holds every field.
func (p *HeaderParser) WordsNeeded() int {
	n := 0
	for _, f := range p.fields {
		if w := f.lastWord() + 1; w > n {
			n = w
		}
	}
	return n
}

func (p *HeaderParser) Copy() *HeaderParser {
	out := &HeaderParser{
		names:   append([]string(nil), p.names...),
		fields:  make(map[string]Field, len(p.fields)),
		getters: make(map[string]Getter, len(p.getters)),
		setters: make(map[string]Setter, len(p.setters)),
	}
	for k, v := range p.fields {
		out.fields[k] = v
	}
	for k, v := range p.getters {
		out.getters[k] = v
	}
	for k, v := range p.setters {
		out.setters[k] = v
	}
	return out
}

// Update merges other into p; fields of other win on name clashes.
func (p *HeaderParser) Update(other *HeaderParser) error {
	if other == nil {
		return nil
	}
	for _, name := range other.names {
		if err := p.SetField(name, other.fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// Add returns a new parser holding the fields of p followed by those of other.
func (p *HeaderParser) Add(other *HeaderParser) (*HeaderParser, error) {
	out := p.Copy()
	if err := out.Update(other); err != nil {
		return nil, err
	}
	return out, nil
}

// HeaderBase stores the words of one header together with its layout.
type HeaderBase struct {
	parser *HeaderParser
	nwords int
	words  []uint32
	frozen bool
}

// NewHeaderBase copies words into a new header. Nil words give an all-zero
// header of nwords words.
func NewHeaderBase(parser *HeaderParser, nwords int, words []uint32, verify bool) (*HeaderBase, error) {
	if words == nil {
		words = make([]uint32, nwords)
	}
	h := &HeaderBase{
		parser: parser,
		nwords: nwords,
		words:  append([]uint32(nil), words...),
	}
	if verify {
		if err := h.Verify(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// HeaderFromKeys builds a header in which every field is given explicitly.
func HeaderFromKeys(parser *HeaderParser, nwords int, keys map[string]uint64, verify bool) (*HeaderBase, error) {
	for _, name := range parser.names {
		if _, ok := keys[name]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrValidation, name)
		}
	}
	return HeaderFromValues(parser, nwords, keys, verify)
}

// HeaderFromValues starts from field defaults and applies values on top.
func HeaderFromValues(parser *HeaderParser, nwords int, values map[string]uint64, verify bool) (*HeaderBase, error) {
	h := &HeaderBase{parser: parser, nwords: nwords, words: make([]uint32, nwords)}
	if need := parser.WordsNeeded(); need > nwords {
		return nil, fmt.Errorf("%w: layout needs %d words, header has %d", ErrValidation, need, nwords)
	}
	for _, name := range parser.names {
		if f := parser.fields[name]; f.HasDefault {
			if err := parser.setters[name](h.words, f.Default); err != nil {
				return nil, err
			}
		}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	if verify {
		if err := h.Verify(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *HeaderBase) Parser() *HeaderParser { return h.parser }

func (h *HeaderBase) NWords() int { return h.nwords }

// Size is the on-disk header size in bytes.
func (h *HeaderBase) Size() int { return 4 * h.nwords }

func (h *HeaderBase) Words() []uint32 {
	return append([]uint32(nil), h.words...)
}

func (h *HeaderBase) Word(i int) uint32 { return h.words[i] }

func (h *HeaderBase) Verify() error {
	if len(h.words) != h.nwords {
		return fmt.Errorf("%w: header has %d words, want %d", ErrValidation, len(h.words), h.nwords)
	}
	if need := h.parser.WordsNeeded(); need > h.nwords {
		return fmt.Errorf("%w: layout needs %d words, header has %d", ErrValidation, need, h.nwords)
	}
	return nil
}

func (h *HeaderBase) Has(name string) bool { return h.parser.Has(name) }

func (h *HeaderBase) Keys() []string { return h.parser.Keys() }

func (h *HeaderBase) Get(name string) (uint64, error) {
	g, err := h.parser.Getter(name)
	if err != nil {
		return 0, err
	}
	f := h.parser.fields[name]
	if f.lastWord() >= len(h.words) {
		return 0, fmt.Errorf("%w: field %q beyond %d header words", ErrValidation, name, len(h.words))
	}
	return g(h.words), nil
}

// Bool reads a one-bit field.
func (h *HeaderBase) Bool(name string) (bool, error) {
	f, ok := h.parser.Field(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if f.Length != 1 {
		return false, fmt.Errorf("%w: field %q is %d bits wide", ErrValidation, name, f.Length)
	}
	v, err := h.Get(name)
	return v == 1, err
}

func (h *HeaderBase) Set(name string, v uint64) error {
	if h.frozen {
		return fmt.Errorf("%w: cannot set %q", ErrFrozen, name)
	}
	s, err := h.parser.Setter(name)
	if err != nil {
		return err
	}
	if h.parser.fields[name].lastWord() >= len(h.words) {
		return fmt.Errorf("%w: field %q beyond %d header words", ErrValidation, name, len(h.words))
	}
	if err := s(h.words, v); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

func (h *HeaderBase) SetBool(name string, b bool) error {
	var v uint64
	if b {
		v = 1
	}
	return h.Set(name, v)
}

// SetDefault restores a field to its layout default.
func (h *HeaderBase) SetDefault(name string) error {
	d, err := h.parser.Default(name)
	if err != nil {
		return err
	}
	return h.Set(name, d)
}

// Values returns every field keyed by name, suitable for HeaderFromKeys.
func (h *HeaderBase) Values() map[string]uint64 {
	out := make(map[string]uint64, len(h.parser.names))
	for _, name := range h.parser.names {
		if v, err := h.Get(name); err == nil {
			out[name] = v
		}
	}
	return out
}

func (h *HeaderBase) Frozen() bool { return h.frozen }

func (h *HeaderBase) Freeze() { h.frozen = true }

// SetMutable freezes the header or confirms it is still mutable; a frozen
// header cannot be thawed.
func (h *HeaderBase) SetMutable(mutable bool) error {
	if !mutable {
		h.frozen = true
		return nil
	}
	if h.frozen {
		return ErrFrozen
	}
	return nil
}

// Copy detaches the word storage; the copy is always mutable.
func (h *HeaderBase) Copy() *HeaderBase {
	return &HeaderBase{
		parser: h.parser,
		nwords: h.nwords,
		words:  append([]uint32(nil), h.words...),
	}
}

func (h *HeaderBase) Equal(o *HeaderBase) bool {
	if h == nil || o == nil {
		return h == o
	}
	return wordsEqual(h.words, o.words)
}

func (h *HeaderBase) WriteTo(w io.Writer) (int64, error) {
	return WriteWords(w, h.words)
}

func wordsEqual(a, b []uint32) bool {
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

// ReadWords reads n little-endian words. Nothing read gives io.EOF, a partial
// read io.ErrUnexpectedEOF.
func ReadWords(r io.Reader, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return DecodeWords(buf), nil
}

func DecodeWords(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return words
}

func EncodeWords(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func WriteWords(w io.Writer, words []uint32) (int64, error) {
	n, err := w.Write(EncodeWords(words))
	return int64(n), err
}
