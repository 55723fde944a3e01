package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DigestQR renders "sha256:<hex>" for a recording digest as a QR code PNG.
func DigestQR(digest string, size int) ([]byte, error) {
	hex := normalizeDigest(digest)
	if len(hex) != 64 {
		return nil, fmt.Errorf("digest %q is not a SHA-256 hex string", digest)
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode("sha256:"+hex, qrcode.Medium, size)
}

func normalizeDigest(digest string) string {
	d := strings.ToLower(strings.TrimSpace(digest))
	d = strings.TrimPrefix(d, "sha256:")
	for _, r := range d {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return d
}
