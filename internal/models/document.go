package models

import (
	"fmt"
	"strconv"
	"strings"
)

// PieceCountField is the zero-based index of the underscore-delimited name
// field that carries the declared piece count.
const PieceCountField = 3

// DocumentName is a document base name split on underscores.
type DocumentName struct {
	Fields []string
}

// ParseDocumentName splits a base name into its underscore-delimited fields.
// It does not validate the piece-count field; see PieceCount.
func ParseDocumentName(name string) DocumentName {
	return DocumentName{Fields: strings.Split(strings.TrimSpace(name), "_")}
}

// PieceCount returns the integer declared in the piece-count field.
func (n DocumentName) PieceCount() (int, error) {
	if len(n.Fields) <= PieceCountField {
		return 0, fmt.Errorf("name has %d fields, need at least %d", len(n.Fields), PieceCountField+1)
	}
	count, err := strconv.Atoi(n.Fields[PieceCountField])
	if err != nil {
		return 0, fmt.Errorf("piece-count field %q is not an integer", n.Fields[PieceCountField])
	}
	return count, nil
}

// WithPieceCount returns a copy of the name with the piece-count field replaced.
func (n DocumentName) WithPieceCount(count int) DocumentName {
	fields := make([]string, len(n.Fields))
	copy(fields, n.Fields)
	if len(fields) > PieceCountField {
		fields[PieceCountField] = strconv.Itoa(count)
	}
	return DocumentName{Fields: fields}
}

func (n DocumentName) String() string {
	return strings.Join(n.Fields, "_")
}

// ExpectedPieceCount converts a page count into sheets of double-sided paper.
func ExpectedPieceCount(pages int) int {
	if pages <= 0 {
		return 0
	}
	return (pages + 1) / 2
}
