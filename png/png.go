// Package png renderuje kody QR linków weryfikacyjnych.
package png

import (
	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
)

const DefaultSize = 300

func Qr(content string) ([]byte, error) {
	return QrSized(content, DefaultSize)
}

// QrSized generuje PNG o boku size pikseli z poziomem korekcji Medium.
func QrSized(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("QR content is empty")
	}
	b, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode QR")
	}
	return b, nil
}
