// Package digest zawiera skróty używane przy wymianie z KSeF: SHA-256 w różnych
// kodowaniach oraz CRC-8 numerów KSeF.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// SHA256Hex zwraca skrót SHA-256 jako hex małymi literami.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Base64 standardowy Base64 z dopełnieniem, w tej postaci bramka podaje skróty części paczki.
func SHA256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SHA256Base64URL Base64URL bez paddingu, np. do linków weryfikacyjnych.
func SHA256Base64URL(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

const crc8Poly = 0x31

// CRC8Maxim liczy CRC-8: wielomian 0x31, init 0x00, bez końcowego XOR, bity od najstarszego.
func CRC8Maxim(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
