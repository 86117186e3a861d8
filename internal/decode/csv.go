package decode

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/mjhen/rosterbridge/internal/grid"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

func decodeCSV(name string, data []byte) (grid.Grid, string, error) {
	text, enc, err := toUTF8(data)
	if err != nil {
		return nil, "", err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		reader.Comma = '\t'
	} else {
		reader.Comma = sniffDelimiter(text)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, row)
	}
	return grid.New(rows), enc, nil
}

// toUTF8 honours a UTF-8 or UTF-16 byte order mark. Without one, text that
// is not valid UTF-8 is read as Windows-1252, which is what spreadsheet
// tools on school machines write.
func toUTF8(data []byte) ([]byte, string, error) {
	enc := "utf-8"
	fallback := unicode.UTF8.NewDecoder()
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		enc = "utf-8-bom"
	case bytes.HasPrefix(data, bomUTF16LE):
		enc = "utf-16le"
	case bytes.HasPrefix(data, bomUTF16BE):
		enc = "utf-16be"
	case !utf8.Valid(data):
		enc = "windows-1252"
		fallback = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), data)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s text: %w", enc, err)
	}
	return out, enc, nil
}

// sniffDelimiter picks the most frequent candidate delimiter outside quotes
// on the first non-empty lines.
func sniffDelimiter(text []byte) rune {
	candidates := []rune{',', ';', '\t', '|'}
	counts := make(map[rune]int, len(candidates))
	lines := 0
	for _, line := range strings.Split(string(text), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		inQuotes := false
		for _, r := range line {
			if r == '"' {
				inQuotes = !inQuotes
				continue
			}
			if !inQuotes {
				counts[r]++
			}
		}
		if lines++; lines == 5 {
			break
		}
	}
	best, bestCount := ',', 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}
