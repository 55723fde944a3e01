package mark5b

import (
	"fmt"
	"os"
)

// OpenFile opens a recording for frame-level reading.
func OpenFile(path string, ref Reference) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewFileReader(f, ref), nil
}

// CreateFile creates or truncates path for frame-level writing.
func CreateFile(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return NewFileWriter(f), nil
}

// OpenStreamFile opens path as a sample stream; the file is closed with it.
func OpenStreamFile(path string, opts ReaderOptions) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := OpenStream(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	return r, nil
}

func CreateStreamFile(path string, opts WriterOptions) (*StreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w, err := CreateStream(f, opts)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}
