package saver

import (
	"strings"

	"tdx-data/internal/model"
)

// SeriesSaver is the file codec of the store: one file holds one instrument's
// full series. The store only depends on this interface.
type SeriesSaver interface {
	// Save writes s to path and syncs it to disk before returning.
	Save(s model.Series, path string) error
	// Load reads back every record in file order.
	Load(path string) (model.Series, error)
	// Info reads the summary metadata without decoding rows.
	Info(path string) (model.SeriesInfo, error)
	Extension() string
}

// NewSeriesSaver creates implementation by format (parquet) and column
// compression. Returns nil if either is not supported.
func NewSeriesSaver(format, compression string) SeriesSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "parquet":
		p := ParquetSaver{Compression: compression}
		if _, err := p.codec(); err != nil {
			return nil
		}
		return p
	default:
		return nil
	}
}
