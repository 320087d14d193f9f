// Package filesource serves a record collection loaded from a local JSON,
// CSV or YAML file. Every row becomes one JSON object payload at the
// position of its row.
package filesource

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// Source is an immutable, in-memory source.Source read from a file.
type Source struct {
	path     string
	payloads [][]byte
}

var _ source.Source = (*Source)(nil)

// Open reads path in the given format. An empty format is inferred from the
// file extension.
func Open(path, format string) (*Source, error) {
	if format == "" {
		format = FormatFromPath(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var payloads [][]byte
	switch strings.ToLower(format) {
	case FormatJSON:
		payloads, err = decodeJSON(data)
	case FormatCSV:
		payloads, err = decodeCSV(data)
	case FormatYAML, "yml":
		payloads, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported format %q: use json, csv, or yaml", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Source{path: path, payloads: payloads}, nil
}

// FormatFromPath guesses a format from the file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Path returns the file the source was read from.
func (s *Source) Path() string { return s.path }

// Len returns the number of records.
func (s *Source) Len() int { return len(s.payloads) }

func (s *Source) TotalCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return uint64(len(s.payloads)), nil
}

func (s *Source) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	if err := ctx.Err(); err != nil {
		return record.RawData{}, err
	}
	if position >= uint64(len(s.payloads)) {
		return record.RawData{}, source.OutOfRange(position, uint64(len(s.payloads)))
	}
	return record.RawData{
		Position: position,
		Payload:  append([]byte(nil), s.payloads[position]...),
	}, nil
}

// decodeJSON expects an array of objects; rows are kept byte for byte.
func decodeJSON(data []byte) ([][]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	payloads := make([][]byte, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, []byte(row))
	}
	return payloads, nil
}

// decodeCSV treats the first row as the header. A "position" column is
// dropped since positions follow row order.
func decodeCSV(data []byte) ([][]byte, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	payloads := make([][]byte, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		fields := make(map[string]string, len(header))
		for j, name := range header {
			if name == "position" {
				continue
			}
			fields[name] = row[j]
		}
		payload, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// decodeYAML expects a sequence of mappings.
func decodeYAML(data []byte) ([][]byte, error) {
	var rows []map[string]interface{}
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	payloads := make([][]byte, 0, len(rows))
	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}
