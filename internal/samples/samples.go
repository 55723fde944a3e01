package samples

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	"example.com/baseband/vlbi"
)

const (
	headerSize  = 16
	payloadSize = 10000
	FrameSize   = headerSize + payloadSize

	syncPattern = 0xABADDEED
	yearDefault = 0xB

	// Defaults describe 8 channels of 2-bit samples at 32 MHz, starting at
	// 2014-06-13T05:30:01Z.
	StartMJD    = 56821
	StartSecond = 19801
	User        = 0xEAD
	NChan       = 8
	BPS         = 2
	SampleRate  = 32e6
	FPS         = 6400
	Seed        = 5
)

var crc16 = vlbi.NewCRC(0x18005)

// Config describes a synthetic recording.
type Config struct {
	Frames      int
	StartMJD    int
	StartSecond int
	User        uint32
	FPS         int
	Seed        int64
	// Invalid lists frames whose payload is the invalid fill pattern.
	Invalid []int
}

func DefaultConfig() Config {
	return Config{
		Frames:      4,
		StartMJD:    StartMJD,
		StartSecond: StartSecond,
		User:        User,
		FPS:         FPS,
		Seed:        Seed,
	}
}

func bcd(v int) uint32 {
	b, err := vlbi.BCDEncode(int64(v))
	if err != nil {
		panic(err)
	}
	return uint32(b)
}

// HeaderWords gives the four header words of frame k of cfg.
func HeaderWords(cfg Config, k int) [4]uint32 {
	sec := cfg.StartSecond + k/cfg.FPS
	mjd := cfg.StartMJD + sec/86400
	sec %= 86400
	nr := k % cfg.FPS
	frac := nr * 10000 / cfg.FPS

	jday, bsec, bfrac := bcd(mjd%1000), bcd(sec), bcd(frac)
	crc := uint32(crc16.Checksum(uint64(jday)<<36|uint64(bsec)<<16|uint64(bfrac), 48))
	return [4]uint32{
		syncPattern,
		yearDefault<<28 | (cfg.User&0xfff)<<16 | uint32(nr),
		jday<<20 | bsec,
		bfrac<<16 | crc,
	}
}

// Build generates cfg.Frames consecutive frames with pseudo-random payloads.
func Build(cfg Config) ([]byte, error) {
	if cfg.Frames <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("samples: need frames and frame rate, got %d and %d", cfg.Frames, cfg.FPS)
	}
	invalid := map[int]bool{}
	for _, k := range cfg.Invalid {
		invalid[k] = true
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	out := make([]byte, cfg.Frames*FrameSize)
	for k := 0; k < cfg.Frames; k++ {
		frame := out[k*FrameSize : (k+1)*FrameSize]
		for i, w := range HeaderWords(cfg, k) {
			binary.LittleEndian.PutUint32(frame[4*i:], w)
		}
		payload := frame[headerSize:]
		if invalid[k] {
			for i := range payload {
				payload[i] = 0xff
			}
			continue
		}
		rng.Read(payload)
	}
	return out, nil
}

// Default is the four-frame recording of DefaultConfig.
func Default() []byte {
	data, err := Build(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return data
}

// Corrupt splices the recording so that the second frame loses its first
// 9960 bytes: the header of frame 1 is followed by the tail of frame 1 and
// the next frame header lands at byte 10072.
func Corrupt(data []byte) []byte {
	out := make([]byte, 0, len(data))
	out = append(out, data[:10040]...)
	return append(out, data[20000:]...)
}

// WriteFile writes data to path, leaving an identical file untouched.
func WriteFile(path string, data []byte) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
