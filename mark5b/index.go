package mark5b

import "sort"

// FrameIndex remembers the byte offset of frames, numbered from the first
// frame of a recording.
type FrameIndex interface {
	Record(frame, offset int64) error
	Offset(frame int64) (int64, bool, error)
	// Floor returns the highest recorded frame at or below frame.
	Floor(frame int64) (int64, int64, bool, error)
}

// MemIndex is an in-memory FrameIndex.
type MemIndex struct {
	offsets map[int64]int64
	frames  []int64
}

func NewMemIndex() *MemIndex {
	return &MemIndex{offsets: map[int64]int64{}}
}

func (m *MemIndex) Record(frame, offset int64) error {
	if _, ok := m.offsets[frame]; !ok {
		i := sort.Search(len(m.frames), func(i int) bool { return m.frames[i] >= frame })
		m.frames = append(m.frames, 0)
		copy(m.frames[i+1:], m.frames[i:])
		m.frames[i] = frame
	}
	m.offsets[frame] = offset
	return nil
}

func (m *MemIndex) Offset(frame int64) (int64, bool, error) {
	off, ok := m.offsets[frame]
	return off, ok, nil
}

func (m *MemIndex) Floor(frame int64) (int64, int64, bool, error) {
	i := sort.Search(len(m.frames), func(i int) bool { return m.frames[i] > frame })
	if i == 0 {
		return 0, 0, false, nil
	}
	f := m.frames[i-1]
	return f, m.offsets[f], true, nil
}

func (m *MemIndex) Len() int { return len(m.frames) }
