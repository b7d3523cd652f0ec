// Package datasource implements the RowLoader external interface (§1, §6
// CsvDataPath/ColumnMappingPath): loading tabular substitution data and its
// column-mapping document. Declared out of THE CORE by the spec, but given
// a concrete CSV-backed implementation so the CLI is runnable end-to-end.
package datasource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

// RowLoader yields already-parsed data rows from a tabular source.
type RowLoader interface {
	Load(path string) ([]loadmodel.DataRow, error)
}

// CSVLoader reads a header-first CSV file into DataRows, one map per
// record, column name to raw cell text (§3 DataRow).
type CSVLoader struct{}

// Load implements RowLoader.
func (CSVLoader) Load(path string) ([]loadmodel.DataRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data source %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header from %q: %w", path, err)
	}

	var rows []loadmodel.DataRow
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rows, fmt.Errorf("reading CSV record from %q: %w", path, err)
		}
		row := make(loadmodel.DataRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnMappingDoc is the on-disk YAML shape for a ColumnMappingPath
// document (§3 ColumnMapping).
type columnMappingDoc struct {
	Columns []struct {
		CSVColumn       string `yaml:"csv_column"`
		PlaceholderName string `yaml:"placeholder_name"`
		DataType        string `yaml:"data_type"`
		Encoding        string `yaml:"encoding"`
	} `yaml:"columns"`
	Globals []struct {
		Name  string `yaml:"name"`
		Value string `yaml:"value"`
	} `yaml:"globals"`
}

// LoadColumnMapping parses a ColumnMappingPath YAML document into a
// loadmodel.DataSourceConfig.
func LoadColumnMapping(path string) (loadmodel.DataSourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadmodel.DataSourceConfig{}, fmt.Errorf("reading column mapping %q: %w", path, err)
	}

	var doc columnMappingDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return loadmodel.DataSourceConfig{}, fmt.Errorf("parsing column mapping %q: %w", path, err)
	}

	cfg := loadmodel.DataSourceConfig{}
	for _, c := range doc.Columns {
		dt := loadmodel.DataType(c.DataType)
		if dt == "" {
			dt = loadmodel.TypeString
		}
		enc := loadmodel.Encoding(c.Encoding)
		if enc == "" {
			enc = loadmodel.EncodingNone
		}
		cfg.Columns = append(cfg.Columns, loadmodel.ColumnMapping{
			CSVColumn:       c.CSVColumn,
			PlaceholderName: c.PlaceholderName,
			DataType:        dt,
			Encoding:        enc,
		})
	}
	for _, g := range doc.Globals {
		cfg.Globals = append(cfg.Globals, loadmodel.GlobalVariable{Name: g.Name, Value: g.Value})
	}
	return cfg, nil
}
