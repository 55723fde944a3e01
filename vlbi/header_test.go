package vlbi

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func testParser(t *testing.T) *HeaderParser {
	t.Helper()
	p, err := NewHeaderParser(
		NamedField{"x0_16_4", NewField(0, 16, 4)},
		NamedField{"x0_31_1", NewField(0, 31, 1).WithDefault(0)},
		NamedField{"x1_0_32", NewField(1, 0, 32)},
		NamedField{"x2_0_64", NewField(2, 0, 64).WithDefault(1 << 32)},
	)
	require.NoError(t, err)
	return p
}

func testHeader(t *testing.T) *HeaderBase {
	t.Helper()
	h, err := NewHeaderBase(testParser(t), 4, []uint32{0x12345678, 0xffff0000, 0x0, 0xffffffff}, true)
	require.NoError(t, err)
	return h
}

func mustGet(t *testing.T, h *HeaderBase, name string) uint64 {
	t.Helper()
	v, err := h.Get(name)
	require.NoError(t, err)
	return v
}

func TestHeaderParserFields(t *testing.T) {
	p := testParser(t)
	require.Equal(t, []string{"x0_16_4", "x0_31_1", "x1_0_32", "x2_0_64"}, p.Keys())
	require.True(t, p.Has("x1_0_32"))
	require.False(t, p.Has("x9"))
	require.Equal(t, 4, p.WordsNeeded())

	f, ok := p.Field("x2_0_64")
	require.True(t, ok)
	require.Equal(t, 64, f.Length)

	_, err := p.Getter("nope")
	require.ErrorIs(t, err, ErrUnknownField)
	_, err = p.Default("x0_16_4")
	require.ErrorIs(t, err, ErrNoDefault)
	d, err := p.Default("x2_0_64")
	require.NoError(t, err)
	require.Equal(t, uint64(1<<32), d)
}

func TestHeaderParserRejectsBadFields(t *testing.T) {
	cases := []Field{
		NewField(0, 2, 32),
		NewField(0, 2, 64),
		NewField(0, 0, 40),
		NewField(0, 0, 0),
		NewField(-1, 0, 4),
		NewField(0, 0, 4).WithDefault(0x10),
	}
	for _, f := range cases {
		_, err := NewHeaderParser(NamedField{"bad", f})
		require.ErrorIsf(t, err, ErrFieldSpec, "field %+v", f)
	}
}

func TestHeaderParserCompose(t *testing.T) {
	p := testParser(t)
	extra, err := NewHeaderParser(
		NamedField{"0_2_8", NewField(0, 2, 8).WithDefault(5)},
		NamedField{"x0_16_4", NewField(0, 16, 8)},
	)
	require.NoError(t, err)

	sum, err := p.Add(extra)
	require.NoError(t, err)
	require.Equal(t, []string{"x0_16_4", "x0_31_1", "x1_0_32", "x2_0_64", "0_2_8"}, sum.Keys())
	f, _ := sum.Field("x0_16_4")
	require.Equal(t, 8, f.Length)
	f, _ = p.Field("x0_16_4")
	require.Equal(t, 4, f.Length, "Add must not modify its receiver")

	cp := p.Copy()
	require.NoError(t, cp.Update(extra))
	require.Equal(t, sum.Keys(), cp.Keys())
	require.Equal(t, 4, p.Len())

	require.NoError(t, p.SetField("0_2_8", NewField(0, 2, 8).WithDefault(5)))
	require.True(t, p.Has("0_2_8"))
	require.ErrorIs(t, p.SetField("bad", NewField(0, 30, 4)), ErrFieldSpec)
}

func TestHeaderGetSet(t *testing.T) {
	h := testHeader(t)
	require.Equal(t, uint64(0x4), mustGet(t, h, "x0_16_4"))
	tvg, err := h.Bool("x0_31_1")
	require.NoError(t, err)
	require.False(t, tvg)
	require.Equal(t, uint64(0xffff0000), mustGet(t, h, "x1_0_32"))
	require.Equal(t, uint64(0xffffffff00000000), mustGet(t, h, "x2_0_64"))

	require.NoError(t, h.Set("x0_16_4", 0xf))
	require.Equal(t, uint32(0x123f5678), h.Word(0))
	require.NoError(t, h.SetBool("x0_31_1", true))
	require.Equal(t, uint32(0x923f5678), h.Word(0))
	require.NoError(t, h.Set("x1_0_32", 0x1234))
	require.Equal(t, []uint32{0x923f5678, 0x1234, 0, 0xffffffff}, h.Words())
	require.NoError(t, h.Set("x2_0_64", 1))
	require.Equal(t, []uint32{1, 0}, h.Words()[2:])
	require.NoError(t, h.SetDefault("x2_0_64"))
	require.Equal(t, []uint32{0, 1}, h.Words()[2:])

	require.ErrorIs(t, h.Set("x0_16_4", 0x10), ErrValueRange)
	require.ErrorIs(t, h.Set("nope", 1), ErrUnknownField)
	require.ErrorIs(t, h.SetDefault("x1_0_32"), ErrNoDefault)
	_, err = h.Bool("x0_16_4")
	require.ErrorIs(t, err, ErrValidation)

	for _, name := range h.Keys() {
		v := mustGet(t, h, name)
		require.NoError(t, h.Set(name, v))
		require.Equal(t, v, mustGet(t, h, name))
	}
}

func TestHeaderVerify(t *testing.T) {
	p := testParser(t)
	_, err := NewHeaderBase(p, 4, []uint32{1, 1, 1, 1, 1}, true)
	require.ErrorIs(t, err, ErrValidation)
	_, err = NewHeaderBase(p, 4, []uint32{1, 1, 1}, true)
	require.ErrorIs(t, err, ErrValidation)
	h, err := NewHeaderBase(p, 4, []uint32{1, 1, 1}, false)
	require.NoError(t, err)
	require.Error(t, h.Verify())

	zero, err := NewHeaderBase(p, 4, nil, true)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 0, 0, 0}, zero.Words())
	require.Equal(t, 16, zero.Size())
}

func TestHeaderFreezeAndCopy(t *testing.T) {
	h := testHeader(t)
	require.NoError(t, h.SetMutable(true))
	require.NoError(t, h.SetMutable(false))
	require.True(t, h.Frozen())
	require.ErrorIs(t, h.Set("x0_16_4", 1), ErrFrozen)
	require.ErrorIs(t, h.SetMutable(true), ErrFrozen)

	cp := h.Copy()
	require.False(t, cp.Frozen())
	require.True(t, cp.Equal(h))
	require.NoError(t, cp.Set("x1_0_32", 7))
	require.False(t, cp.Equal(h))
	require.Equal(t, uint64(0xffff0000), mustGet(t, h, "x1_0_32"))
}

func TestHeaderFromKeysAndValues(t *testing.T) {
	h := testHeader(t)
	again, err := HeaderFromKeys(h.Parser(), 4, h.Values(), true)
	require.NoError(t, err)
	require.Equal(t, h.Values(), again.Values())
	// Bits outside every field are not carried over.
	require.False(t, again.Equal(h))

	keys := h.Values()
	delete(keys, "x1_0_32")
	_, err = HeaderFromKeys(h.Parser(), 4, keys, true)
	require.ErrorIs(t, err, ErrValidation)

	keys["x1_0_32"] = 1
	keys["extra"] = 1
	_, err = HeaderFromKeys(h.Parser(), 4, keys, true)
	require.ErrorIs(t, err, ErrUnknownField)

	def, err := HeaderFromValues(h.Parser(), 4, map[string]uint64{"x0_16_4": 3}, true)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x30000, 0, 0, 1}, def.Words())
}

func TestHeaderReadWrite(t *testing.T) {
	h := testHeader(t)
	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(16), n)
	require.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, buf.Bytes()[:4])

	words, err := ReadWords(bytes.NewReader(buf.Bytes()), 4)
	require.NoError(t, err)
	require.Equal(t, h.Words(), words)

	_, err = ReadWords(bytes.NewReader(buf.Bytes()[:10]), 4)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, err = ReadWords(bytes.NewReader(nil), 4)
	require.ErrorIs(t, err, io.EOF)
}
