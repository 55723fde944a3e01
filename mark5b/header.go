package mark5b

import (
	"fmt"
	"io"
	"math"
	"time"

	"example.com/baseband/vlbi"
)

const (
	HeaderWords = 4
	HeaderSize  = 4 * HeaderWords
	PayloadSize = 10000
	FrameSize   = HeaderSize + PayloadSize
	SyncPattern = 0xABADDEED

	// fractionStep is the frame spacing in the 32 MHz, 8 channel, 2-bit
	// mode; truncated fractions are rounded back up onto this grid.
	fractionStep = 156250
)

var headerParser = vlbi.MustHeaderParser(
	vlbi.NamedField{Name: "sync_pattern", Field: vlbi.NewField(0, 0, 32).WithDefault(SyncPattern)},
	vlbi.NamedField{Name: "year", Field: vlbi.NewField(1, 28, 4).WithDefault(0xB)},
	vlbi.NamedField{Name: "user", Field: vlbi.NewField(1, 16, 12)},
	vlbi.NamedField{Name: "internal_tvg", Field: vlbi.NewField(1, 15, 1)},
	vlbi.NamedField{Name: "frame_nr", Field: vlbi.NewField(1, 0, 15)},
	vlbi.NamedField{Name: "bcd_jday", Field: vlbi.NewField(2, 20, 12)},
	vlbi.NamedField{Name: "bcd_seconds", Field: vlbi.NewField(2, 0, 20)},
	vlbi.NamedField{Name: "bcd_fraction", Field: vlbi.NewField(3, 16, 16)},
	vlbi.NamedField{Name: "crc", Field: vlbi.NewField(3, 0, 16)},
)

// invariantFields do not change from frame to frame within a recording.
var invariantFields = []string{"sync_pattern", "year", "user", "internal_tvg"}

var crc16 = vlbi.NewCRC(0x18005)

// HeaderParser returns a copy of the Mark5B header layout.
func HeaderParser() *vlbi.HeaderParser { return headerParser.Copy() }

type refKind uint8

const (
	refNone refKind = iota
	refKDay
	refMJD
)

// Reference pins down the thousand-day epoch that the three BCD day digits
// of a header leave open. The zero value leaves it unknown.
type Reference struct {
	kind refKind
	kday int
	mjd  float64
}

func KDay(kday int) Reference { return Reference{kind: refKDay, kday: kday} }

// RefMJD resolves the epoch to the one nearest mjd; it is right as long as
// mjd is within 499 days of the recording.
func RefMJD(mjd float64) Reference { return Reference{kind: refMJD, mjd: mjd} }

func RefTime(t time.Time) Reference { return RefMJD(vlbi.MJDFloat(t)) }

func (r Reference) IsZero() bool { return r.kind == refNone }

func (r Reference) apply(h *Header) error {
	switch r.kind {
	case refKDay:
		return h.SetKDay(r.kday)
	case refMJD:
		return h.InferKDay(r.mjd)
	}
	return nil
}

// Header is a Mark5B frame header.
type Header struct {
	*vlbi.HeaderBase
	kday    int
	hasKDay bool
}

// NewHeader wraps words; nil gives an all-zero header. With verify set the
// word count and sync pattern are checked.
func NewHeader(words []uint32, ref Reference, verify bool) (*Header, error) {
	base, err := vlbi.NewHeaderBase(headerParser, HeaderWords, words, false)
	if err != nil {
		return nil, err
	}
	h := &Header{HeaderBase: base}
	if verify {
		if err := h.Verify(); err != nil {
			return nil, err
		}
	}
	if err := ref.apply(h); err != nil {
		return nil, err
	}
	return h, nil
}

func ReadHeader(r io.Reader, ref Reference) (*Header, error) {
	words, err := vlbi.ReadWords(r, HeaderWords)
	if err != nil {
		return nil, err
	}
	return NewHeader(words, ref, true)
}

// HeaderFromKeys builds a header from every raw field value.
func HeaderFromKeys(keys map[string]uint64, ref Reference) (*Header, error) {
	base, err := vlbi.HeaderFromKeys(headerParser, HeaderWords, keys, true)
	if err != nil {
		return nil, err
	}
	h := &Header{HeaderBase: base}
	if err := ref.apply(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Values are the semantic inputs of a header.
type Values struct {
	Time        time.Time
	User        uint64
	InternalTVG bool
	FrameNr     int
}

// HeaderFromValues sets the BCD time fields from v.Time and computes the CRC.
func HeaderFromValues(v Values) (*Header, error) {
	if v.Time.IsZero() {
		return nil, fmt.Errorf("%w: header time is required", vlbi.ErrValidation)
	}
	if v.FrameNr < 0 {
		return nil, fmt.Errorf("%w: negative frame number %d", vlbi.ErrValidation, v.FrameNr)
	}
	tvg := uint64(0)
	if v.InternalTVG {
		tvg = 1
	}
	base, err := vlbi.HeaderFromValues(headerParser, HeaderWords, map[string]uint64{
		"user":         v.User,
		"internal_tvg": tvg,
		"frame_nr":     uint64(v.FrameNr),
	}, true)
	if err != nil {
		return nil, err
	}
	h := &Header{HeaderBase: base}
	if err := h.SetTime(v.Time); err != nil {
		return nil, err
	}
	if err := h.UpdateCRC(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) Verify() error {
	if err := h.HeaderBase.Verify(); err != nil {
		return err
	}
	if sync := h.field("sync_pattern"); sync != SyncPattern {
		return fmt.Errorf("%w: sync pattern %#08x", vlbi.ErrValidation, sync)
	}
	return nil
}

func (h *Header) field(name string) uint64 {
	v, _ := h.Get(name)
	return v
}

func (h *Header) Year() int { return int(h.field("year")) }

func (h *Header) User() uint64 { return h.field("user") }

func (h *Header) InternalTVG() bool { return h.field("internal_tvg") == 1 }

func (h *Header) FrameNr() int { return int(h.field("frame_nr")) }

func (h *Header) SetFrameNr(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative frame number %d", vlbi.ErrValidation, n)
	}
	return h.Set("frame_nr", uint64(n))
}

func (h *Header) CRC() uint16 { return uint16(h.field("crc")) }

func (h *Header) KDay() (int, bool) { return h.kday, h.hasKDay }

func (h *Header) SetKDay(kday int) error {
	if kday%1000 != 0 {
		return fmt.Errorf("%w: kday %d is not a multiple of 1000", vlbi.ErrValidation, kday)
	}
	h.kday, h.hasKDay = kday, true
	return nil
}

// InferKDay picks the thousand-day epoch that puts the header nearest refMJD,
// preferring the earlier epoch on a tie.
func (h *Header) InferKDay(refMJD float64) error {
	jday, err := h.JDay()
	if err != nil {
		return err
	}
	refKDay := math.Floor(refMJD / 1000)
	refJDay := refMJD - 1000*refKDay
	shift := math.Ceil((refJDay-float64(jday))/1000 - 0.5)
	h.kday, h.hasKDay = int(refKDay+shift)*1000, true
	return nil
}

// JDay is the MJD modulo 1000.
func (h *Header) JDay() (int, error) {
	v, err := vlbi.BCDDecode(h.field("bcd_jday"))
	return int(v), err
}

func (h *Header) Seconds() (int, error) {
	v, err := vlbi.BCDDecode(h.field("bcd_seconds"))
	return int(v), err
}

// Fraction is the fraction of the second in units of 0.1 ms, truncated.
func (h *Header) Fraction() (int, error) {
	v, err := vlbi.BCDDecode(h.field("bcd_fraction"))
	return int(v), err
}

// NS reconstructs the nanoseconds into the second from the truncated fraction.
func (h *Header) NS() (int64, error) {
	frac, err := h.Fraction()
	if err != nil {
		return 0, err
	}
	ns := int64(frac) * 100000
	return fractionStep * ((ns + fractionStep - 1) / fractionStep), nil
}

func (h *Header) MJD() (int, error) {
	if !h.hasKDay {
		return 0, ErrNoEpoch
	}
	jday, err := h.JDay()
	if err != nil {
		return 0, err
	}
	return h.kday + jday, nil
}

// validTime reports whether the BCD time fields decode to a possible time.
func (h *Header) validTime() bool {
	if _, err := h.JDay(); err != nil {
		return false
	}
	sec, err := h.Seconds()
	if err != nil || sec >= 86400 {
		return false
	}
	_, err = h.Fraction()
	return err == nil
}

func (h *Header) second() (time.Time, error) {
	mjd, err := h.MJD()
	if err != nil {
		return time.Time{}, err
	}
	sec, err := h.Seconds()
	if err != nil {
		return time.Time{}, err
	}
	return vlbi.TimeFromMJD(mjd, int64(sec)*int64(time.Second)), nil
}

// Time is the header time using the fraction field.
func (h *Header) Time() (time.Time, error) {
	t, err := h.second()
	if err != nil {
		return time.Time{}, err
	}
	ns, err := h.NS()
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(ns)), nil
}

// FrameTime is the time of frame frameNr within the header's second. Frame 0
// needs no rate; any other frame needs a positive frame rate in Hz.
func (h *Header) FrameTime(frameRate float64, frameNr int) (time.Time, error) {
	t, err := h.second()
	if err != nil {
		return time.Time{}, err
	}
	if frameNr == 0 {
		return t, nil
	}
	if frameRate <= 0 {
		return time.Time{}, fmt.Errorf("%w: frame rate needed for frame %d", vlbi.ErrValidation, frameNr)
	}
	return t.Add(time.Duration(math.Round(float64(frameNr) * 1e9 / frameRate))), nil
}

// TimeAtRate is FrameTime for the header's own frame number.
func (h *Header) TimeAtRate(frameRate float64) (time.Time, error) {
	return h.FrameTime(frameRate, h.FrameNr())
}

// SetTime stores t in the kday and BCD time fields, truncating to 0.1 ms.
// The CRC is left alone; see UpdateCRC.
func (h *Header) SetTime(t time.Time) error {
	day, ns := vlbi.MJD(t)
	if day < 0 {
		return fmt.Errorf("%w: time %s before MJD 0", vlbi.ErrValidation, t)
	}
	kday := day / 1000 * 1000
	jday, _ := vlbi.BCDEncode(int64(day - kday))
	sec, _ := vlbi.BCDEncode(ns / int64(time.Second))
	frac, _ := vlbi.BCDEncode(ns % int64(time.Second) / 100000)
	for _, f := range []struct {
		name string
		v    uint64
	}{{"bcd_jday", jday}, {"bcd_seconds", sec}, {"bcd_fraction", frac}} {
		if err := h.Set(f.name, f.v); err != nil {
			return err
		}
	}
	h.kday, h.hasKDay = kday, true
	return nil
}

// ComputeCRC is the CRC-16 over the 48 time bits.
func (h *Header) ComputeCRC() uint16 {
	stream := h.field("bcd_jday")<<36 | h.field("bcd_seconds")<<16 | h.field("bcd_fraction")
	return uint16(crc16.Checksum(stream, 48))
}

func (h *Header) UpdateCRC() error {
	return h.Set("crc", uint64(h.ComputeCRC()))
}

func (h *Header) CRCValid() bool { return h.CRC() == h.ComputeCRC() }

func (h *Header) PayloadSize() int { return PayloadSize }

// SetPayloadSize only accepts the fixed Mark5B payload size.
func (h *Header) SetPayloadSize(n int) error {
	if n != PayloadSize {
		return fmt.Errorf("%w: Mark5B payload size is %d, not %d", vlbi.ErrValidation, PayloadSize, n)
	}
	return nil
}

func (h *Header) FrameSize() int { return FrameSize }

func (h *Header) SetFrameSize(n int) error {
	if n != FrameSize {
		return fmt.Errorf("%w: Mark5B frame size is %d, not %d", vlbi.ErrValidation, FrameSize, n)
	}
	return nil
}

// Copy keeps the epoch; the words are detached and mutable.
func (h *Header) Copy() *Header {
	return &Header{HeaderBase: h.HeaderBase.Copy(), kday: h.kday, hasKDay: h.hasKDay}
}

// Equal compares the on-disk words only.
func (h *Header) Equal(o *Header) bool {
	if h == nil || o == nil {
		return h == o
	}
	return h.HeaderBase.Equal(o.HeaderBase)
}

// Matches reports whether h could be a frame of the same recording as
// template: same invariant fields and decodable time.
func (h *Header) Matches(template *Header) bool {
	if h.field("sync_pattern") != SyncPattern {
		return false
	}
	if template != nil {
		for _, name := range invariantFields {
			if h.field(name) != template.field(name) {
				return false
			}
		}
	}
	return h.validTime()
}
