// Package number weryfikuje numery KSeF nadawane przez bramkę.
//
// Format: NIP(10)-RRRRMMDD(8)-HEX(12)-CRC(2), razem 35 znaków. Suma kontrolna to CRC-8
// liczone z 32 znaków poprzedzających ostatni myślnik, zapisane jako dwie cyfry hex.
package number

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/go-faster/errors"
)

const (
	Length     = 35
	dataLength = 32
)

var pattern = regexp.MustCompile(`^(\d{10})-(\d{8})-([0-9A-F]{12})-([0-9A-F]{2})$`)

var (
	ErrFormat   = errors.New("invalid KSeF number format")
	ErrChecksum = errors.New("invalid KSeF number checksum")
)

// KsefNumber zweryfikowany numer KSeF.
type KsefNumber struct {
	value string
	nip   string
	date  time.Time
}

func (n KsefNumber) String() string  { return n.value }
func (n KsefNumber) Nip() string     { return n.nip }
func (n KsefNumber) Date() time.Time { return n.date }

// Parse sprawdza format, datę i sumę kontrolną.
func Parse(s string) (KsefNumber, error) {
	if len(s) != Length {
		return KsefNumber{}, errors.Wrapf(ErrFormat, "length %d", len(s))
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return KsefNumber{}, errors.Wrapf(ErrFormat, "%q", s)
	}

	date, err := time.Parse("20060102", m[2])
	if err != nil {
		return KsefNumber{}, errors.Wrapf(ErrFormat, "date %s", m[2])
	}

	want, err := strconv.ParseUint(m[4], 16, 8)
	if err != nil {
		return KsefNumber{}, errors.Wrapf(ErrFormat, "checksum %s", m[4])
	}
	if got := digest.CRC8Maxim([]byte(s[:dataLength])); got != byte(want) {
		return KsefNumber{}, errors.Wrapf(ErrChecksum, "%s: expected %02X", s, got)
	}

	return KsefNumber{value: s, nip: m[1], date: date}, nil
}

// Validate to Parse bez zwracania wartości.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// Checksum zwraca sumę kontrolną dla części danych numeru. Tylko do testów i diagnostyki:
// numery nadaje wyłącznie bramka.
func Checksum(data string) string {
	return fmt.Sprintf("%02X", digest.CRC8Maxim([]byte(data)))
}
