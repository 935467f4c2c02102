package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/marketdata"
)

const dateLayout = "2006-01-02"

// File is a portfolio file. Quotes seed the lookup for rows that carry no
// price or beta of their own.
type File struct {
	AsOf         string       `json:"as_of,omitempty" yaml:"as_of,omitempty"`
	IndexChanges []float64    `json:"index_changes,omitempty" yaml:"index_changes,omitempty"`
	Quotes       []FileQuote  `json:"quotes,omitempty" yaml:"quotes,omitempty"`
	Positions    []loader.Row `json:"positions" yaml:"positions"`
}

type FileQuote struct {
	Ticker string          `json:"ticker" yaml:"ticker"`
	Price  decimal.Decimal `json:"price" yaml:"price"`
	Beta   *float64        `json:"beta,omitempty" yaml:"beta,omitempty"`
}

// ReadFile parses a portfolio file. Files ending in .json are decoded as
// JSON; anything else as YAML.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	return ParseFile(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseFile decodes a portfolio document.
func ParseFile(data []byte, isJSON bool) (*File, error) {
	var f File
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse portfolio json: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse portfolio yaml: %w", err)
		}
	}
	for i, q := range f.Quotes {
		if strings.TrimSpace(q.Ticker) == "" {
			return nil, fmt.Errorf("quote %d: missing ticker", i)
		}
	}
	return &f, nil
}

// Date returns the valuation date: override if set, else the file's
// as_of, else today.
func (f *File) Date(override string) (time.Time, error) {
	s := override
	if s == "" {
		s = f.AsOf
	}
	if s == "" {
		return today(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("as-of %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// Source returns an in-memory quote source holding the file's quotes.
func (f *File) Source() *marketdata.MemorySource {
	src := marketdata.NewMemorySource()
	for _, q := range f.Quotes {
		src.Set(q.Ticker, q.Price, q.Beta)
	}
	return src
}
