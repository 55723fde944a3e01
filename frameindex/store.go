// Package frameindex persists frame byte offsets of recordings in pebble so
// that reopening a large or damaged recording does not need a fresh scan.
package frameindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"example.com/baseband/mark5b"
)

const keyPrefix = "frames/"

// Store holds the frame indices of any number of recordings.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open frame index %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory gives a store that vanishes on Close.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// For returns the index of one recording, keyed by any stable name such as
// its path or digest.
func (s *Store) For(recording string) *Index {
	prefix := append([]byte(keyPrefix+recording), 0)
	return &Index{db: s.db, prefix: prefix}
}

// Index is the frame index of one recording.
type Index struct {
	db     *pebble.DB
	prefix []byte
}

var _ mark5b.FrameIndex = (*Index)(nil)

// Frame numbers are stored sign-flipped so that byte order is numeric order.
func (ix *Index) key(frame int64) []byte {
	k := make([]byte, len(ix.prefix)+8)
	copy(k, ix.prefix)
	binary.BigEndian.PutUint64(k[len(ix.prefix):], uint64(frame)^(1<<63))
	return k
}

func (ix *Index) frame(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(ix.prefix):]) ^ (1 << 63))
}

// upper is the first key past the recording's range.
func (ix *Index) upper() []byte {
	u := append([]byte(nil), ix.prefix...)
	u[len(u)-1]++
	return u
}

func (ix *Index) Record(frame, offset int64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(offset))
	return ix.db.Set(ix.key(frame), v[:], pebble.NoSync)
}

func (ix *Index) Offset(frame int64) (int64, bool, error) {
	v, closer, err := ix.db.Get(ix.key(frame))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, false, fmt.Errorf("frame index: bad value of %d bytes for frame %d", len(v), frame)
	}
	return int64(binary.BigEndian.Uint64(v)), true, nil
}

func (ix *Index) Floor(frame int64) (int64, int64, bool, error) {
	iter, err := ix.db.NewIter(&pebble.IterOptions{
		LowerBound: ix.prefix,
		UpperBound: ix.key(frame + 1),
	})
	if err != nil {
		return 0, 0, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, 0, false, iter.Error()
	}
	v := iter.Value()
	if len(v) != 8 {
		return 0, 0, false, fmt.Errorf("frame index: bad value of %d bytes", len(v))
	}
	return ix.frame(iter.Key()), int64(binary.BigEndian.Uint64(v)), true, nil
}

// Len counts the recorded frames.
func (ix *Index) Len() (int, error) {
	iter, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: ix.prefix, UpperBound: ix.upper()})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Reset forgets every frame of the recording.
func (ix *Index) Reset() error {
	return ix.db.DeleteRange(ix.prefix, ix.upper(), pebble.NoSync)
}
