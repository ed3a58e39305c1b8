package qrtoken

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultPNGSize is the edge length in pixels of rendered codes.
const DefaultPNGSize = 256

// RenderPNG encodes the token payload as a QR code image.
func RenderPNG(t Token, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultPNGSize
	}
	png, err := qrcode.Encode(t.Payload(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr for %s: %w", t.ID, err)
	}
	return png, nil
}
