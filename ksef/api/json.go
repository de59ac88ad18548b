package api

import (
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// decodeObject dekoduje obiekt JSON odpowiedzi; każdy błąd kształtu to ksef.ParseError.
func decodeObject(name string, body []byte, f func(d *jx.Decoder, key string) error) error {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return ksef.NewParseError(name, errors.Errorf("expected JSON object, got %s", d.Next()))
	}
	if err := d.Obj(f); err != nil {
		return ksef.NewParseError(name, err)
	}
	return nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

// decodeOptStr zwraca pusty napis dla null.
func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// required sprawdza obecność wymaganych pól w kolejności ich deklaracji.
type required []struct {
	name string
	seen bool
}

func newRequired(names ...string) required {
	r := make(required, len(names))
	for i, n := range names {
		r[i].name = n
	}
	return r
}

func (r required) mark(name string) {
	for i := range r {
		if r[i].name == name {
			r[i].seen = true
		}
	}
}

func (r required) check() error {
	for _, f := range r {
		if !f.seen {
			return errors.Errorf("missing required field %q", f.name)
		}
	}
	return nil
}
