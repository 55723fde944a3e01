package common

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Sha256OfReader hashes r to the end, returning the hex digest and byte count.
func Sha256OfReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Sha256OfReader(f)
}
