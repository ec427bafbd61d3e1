// Package csvio reads and writes the semicolon-separated files the race
// office exchanges: startlists, chip mappings, punch logs and result
// exports. Input may be UTF-8 (with or without BOM) or Latin-1, the
// encoding registration tools on Windows laptops still produce.
package csvio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ImportStats summarizes one import: rows applied plus per-row warnings
// in operator language.
type ImportStats struct {
	Count    int
	Warnings []string
}

// PunchImportStats summarizes a punch file import. Total counts parsed
// rows, New the punches actually inserted; redelivered upstream ids and
// window duplicates make the difference.
type PunchImportStats struct {
	Total    int
	New      int
	Warnings []string
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// decode reads r fully, strips a UTF-8 BOM and transcodes from Latin-1
// when the bytes are not valid UTF-8.
func decode(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode latin-1: %w", err)
		}
	}
	return string(data), nil
}

// readRows parses semicolon-separated rows. Records may vary in width;
// quoting follows RFC 4180 with ; as the separator.
func readRows(content string) ([][]string, error) {
	cr := csv.NewReader(strings.NewReader(content))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

// isHeader reports whether the row is the BIB header line.
func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "BIB")
}
