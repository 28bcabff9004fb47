// Package document opens the source PDF: its fingerprint, its page count and
// the rendering of single pages to PNG for the extraction model.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Source is an opened source document.
type Source struct {
	Path        string
	Name        string
	Size        int64
	Fingerprint string
	PageCount   int
}

// Page is one rendered page handed to the extractor.
type Page struct {
	Number int
	Total  int
	Image  []byte
}

// Open fingerprints the PDF at path and counts its pages.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	fp, err := Fingerprint(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind PDF: %w", err)
	}

	pageCount, err := api.PageCount(f, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count for %s: %w", path, err)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("PDF %s has no pages", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Source{
		Path:        abs,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		Fingerprint: fp,
		PageCount:   pageCount,
	}, nil
}

// Fingerprint returns the content hash identifying a document across runs.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash document: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
