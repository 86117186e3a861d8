// Package decode turns uploaded files (CSV, XLSX, or ZIP archives of
// either) into cell grids.
package decode

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/mjhen/rosterbridge/internal/grid"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("empty file")
	ErrTooLarge          = errors.New("file too large")
)

// Format is the container format of an upload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatZIP  Format = "zip"
)

// File is one decoded grid. Archives produce one File per member; a member
// that could not be decoded carries Err and no grid.
type File struct {
	Name     string    `json:"name"`
	Format   Format    `json:"format"`
	Encoding string    `json:"encoding,omitempty"`
	Digest   string    `json:"digest"`
	Grid     grid.Grid `json:"-"`
	Err      error     `json:"-"`
}

// Options bound the work an upload can cause.
type Options struct {
	// MaxMembers caps how many archive members are decoded.
	MaxMembers int
	// MaxMemberBytes caps the uncompressed size of one archive member.
	MaxMemberBytes int64
	// Concurrency is how many archive members decode at once.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.MaxMembers <= 0 {
		o.MaxMembers = 200
	}
	if o.MaxMemberBytes <= 0 {
		o.MaxMemberBytes = 64 << 20
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Decode decodes data according to name's extension, falling back to
// content sniffing. Errors returned here are fatal for the whole upload;
// archive members fail individually through File.Err.
func Decode(ctx context.Context, name string, data []byte, opts Options) ([]File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}
	opts = opts.withDefaults()
	format, err := Detect(name, data)
	if err != nil {
		return nil, err
	}
	if format == FormatZIP {
		return decodeZIP(ctx, name, data, opts)
	}
	f := decodeOne(name, format, data)
	if f.Err != nil {
		return nil, f.Err
	}
	return []File{f}, nil
}

// Detect picks the format for an upload from its extension, sniffing the
// content when the extension says nothing.
func Detect(name string, data []byte) (Format, error) {
	if format, ok, err := formatForName(name); ok || err != nil {
		return format, err
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		// Workbooks are zip containers; their part list names the content types.
		if bytes.Contains(data, []byte("[Content_Types].xml")) {
			return FormatXLSX, nil
		}
		return FormatZIP, nil
	}
	if len(data) > 0 && looksLikeText(data) {
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

func formatForName(name string) (Format, bool, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, true, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, true, nil
	case ".zip":
		return FormatZIP, true, nil
	case ".xls":
		return "", false, fmt.Errorf("%w: %s (legacy .xls, save as .xlsx)", ErrUnsupportedFormat, name)
	}
	return "", false, nil
}

func decodeOne(name string, format Format, data []byte) File {
	f := File{Name: name, Format: format, Digest: Digest(data)}
	var err error
	switch format {
	case FormatCSV:
		f.Grid, f.Encoding, err = decodeCSV(name, data)
	case FormatXLSX:
		f.Grid, err = decodeXLSX(data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err == nil && f.Grid.Len() == 0 {
		err = ErrEmptyFile
	}
	if err != nil {
		f.Grid = nil
		f.Err = fmt.Errorf("decode %s: %w", name, err)
	}
	return f
}

// Digest is the hex BLAKE2b-256 of data, recorded with each import run so a
// re-upload of the same file can be recognized.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func looksLikeText(data []byte) bool {
	sample := data[:min(len(data), 1024)]
	if bytes.HasPrefix(sample, []byte{0xFF, 0xFE}) || bytes.HasPrefix(sample, []byte{0xFE, 0xFF}) {
		return true
	}
	return !bytes.ContainsRune(sample, 0)
}
