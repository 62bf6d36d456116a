package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

// Asset is one named file inside a result bundle.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// maxEntrySize bounds a single extracted entry.
const maxEntrySize = 64 << 20

func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsArchive reports whether data starts with a zip local file header.
func IsArchive(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

// ExtractAssets returns the regular files of the archive whose base name
// satisfies keep. A nil keep returns every file. Directory components are
// dropped from the returned file names.
func ExtractAssets(data []byte, keep func(name string) bool) ([]Asset, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: open archive: %w", err)
	}
	var out []Asset
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if keep != nil && !keep(name) {
			continue
		}
		if f.UncompressedSize64 > maxEntrySize {
			return nil, fmt.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxEntrySize)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip: open %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip: read %s: %w", f.Name, err)
		}
		if len(body) > maxEntrySize {
			return nil, fmt.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxEntrySize)
		}
		out = append(out, Asset{Filename: name, MIME: MIMEType(name), Data: body})
	}
	return out, nil
}

// MIMEType guesses the content type of a bundle entry from its extension.
func MIMEType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".vtt":
		return "text/vtt"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
