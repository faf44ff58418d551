package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrDecode is returned when content is not valid under its declared encoding.
	ErrDecode = errors.New("decode error")

	// ErrUnsupportedFormat is returned for media types that cannot be extracted.
	// It is not fatal: the raw bytes may still be stored without indexing.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

type MediaType int

const (
	MediaTypeUnsupported MediaType = iota
	MediaTypeText
	MediaTypePDF
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeText:
		return "text"
	case MediaTypePDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// MediaTypeOf resolves the media type from a filename extension.
func MediaTypeOf(filename string) MediaType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return MediaTypeText
	case ".pdf":
		return MediaTypePDF
	default:
		return MediaTypeUnsupported
	}
}

// Extract converts raw document bytes into plain text.
func Extract(data []byte, mediaType MediaType) (string, error) {
	switch mediaType {
	case MediaTypeText:
		return extractText(data)
	case MediaTypePDF:
		return extractPDF(data)
	default:
		return "", ErrUnsupportedFormat
	}
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: invalid utf-8 content", ErrDecode)
	}

	return string(data), nil
}

func extractPDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", ErrDecode, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecode, err.Error())
	}

	pages := make([]string, r.NumPage())
	for i := range pages {
		p := r.Page(i + 1)
		if p.V.IsNull() {
			continue
		}

		content, err := p.GetPlainText(nil)
		if err != nil {
			// pages without extractable text contribute nothing
			continue
		}

		pages[i] = content
	}

	return JoinPages(pages), nil
}

// JoinPages concatenates page texts in order with a newline between pages.
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n")
}
