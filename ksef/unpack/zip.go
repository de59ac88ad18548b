// Package unpack rozpakowuje odszyfrowaną paczkę eksportu: ZIP, manifest _metadata.json i pliki XML faktur.
package unpack

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/go-faster/errors"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.unpack")

const (
	ManifestName = "_metadata.json"
	maxEntrySize = 64 << 20
)

// Unzip zwraca mapę nazwa pliku → zawartość. Katalogi są pomijane, ścieżki spłaszczane do nazwy pliku.
func Unzip(data []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ksef.NewParseError("package.zip", errors.Wrap(err, "open zip"))
	}

	files := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if f.UncompressedSize64 > maxEntrySize {
			return nil, ksef.NewParseError(name, errors.Errorf("entry too large: %d bytes", f.UncompressedSize64))
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, ksef.NewParseError(name, err)
		}
		if _, dup := files[name]; dup {
			logger.WithField("file", name).Warn("Duplicate file name in package, keeping first")
			continue
		}
		files[name] = content
	}

	logger.WithField("files", len(files)).Debug("Package unzipped")
	return files, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open entry")
	}
	defer func() { _ = rc.Close() }()

	content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read entry")
	}
	if len(content) > maxEntrySize {
		return nil, errors.New("entry exceeds size limit")
	}
	return content, nil
}
