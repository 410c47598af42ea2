package saver

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"tdx-data/internal/model"
)

// Metadata keys stored in the parquet footer.
const (
	MetaInstrumentID = "instrument_id"
	MetaRecordCount  = "record_count"
	MetaFirstDate    = "first_date"
	MetaLastDate     = "last_date"
)

// row is the on-disk shape of a QuoteRecord.
type row struct {
	Date      string   `parquet:"date"`
	Open      float64  `parquet:"open"`
	High      float64  `parquet:"high"`
	Low       float64  `parquet:"low"`
	Close     float64  `parquet:"close"`
	Amount    *float64 `parquet:"amount,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	PrevClose *float64 `parquet:"prev_close,optional"`
}

// ParquetSaver stores a series as a parquet file with summary metadata.
// Compression names a codec (see Codecs); empty means zstd.
type ParquetSaver struct {
	Compression string
}

// Codecs are the supported column compression codecs.
var Codecs = map[string]compress.Codec{
	"none":   &parquet.Uncompressed,
	"snappy": &parquet.Snappy,
	"gzip":   &parquet.Gzip,
	"zstd":   &parquet.Zstd,
	"lz4":    &parquet.Lz4Raw,
	"brotli": &parquet.Brotli,
}

func (p ParquetSaver) codec() (compress.Codec, error) {
	name := strings.ToLower(strings.TrimSpace(p.Compression))
	if name == "" {
		name = "zstd"
	}
	c, ok := Codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown compression %q", p.Compression)
	}
	return c, nil
}

func (ParquetSaver) Extension() string { return "parquet" }

func (p ParquetSaver) Save(s model.Series, path string) error {
	codec, err := p.codec()
	if err != nil {
		return err
	}

	rows := make([]row, len(s.Records))
	for i, r := range s.Records {
		rows[i] = row{
			Date:      r.Date.String(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Amount:    r.Amount,
			Volume:    r.Volume,
			PrevClose: r.PrevClose,
		}
	}

	opts := []parquet.WriterOption{
		parquet.Compression(codec),
		parquet.KeyValueMetadata(MetaInstrumentID, s.InstrumentID),
		parquet.KeyValueMetadata(MetaRecordCount, strconv.Itoa(len(rows))),
	}
	if n := len(s.Records); n > 0 {
		opts = append(opts,
			parquet.KeyValueMetadata(MetaFirstDate, s.Records[0].Date.String()),
			parquet.KeyValueMetadata(MetaLastDate, s.Records[n-1].Date.String()),
		)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[row](f, opts...)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p ParquetSaver) Load(path string) (model.Series, error) {
	info, err := p.Info(path)
	if err != nil {
		return model.Series{}, err
	}
	rows, err := parquet.ReadFile[row](path)
	if err != nil {
		return model.Series{}, fmt.Errorf("read %s: %w", path, err)
	}
	records := make([]model.QuoteRecord, 0, len(rows))
	for _, r := range rows {
		d, err := model.ParseDate(r.Date)
		if err != nil {
			return model.Series{}, fmt.Errorf("read %s: %w", path, err)
		}
		records = append(records, model.QuoteRecord{
			Date:      d,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Amount:    r.Amount,
			Volume:    r.Volume,
			PrevClose: r.PrevClose,
		})
	}
	return model.Series{InstrumentID: info.InstrumentID, Records: records}, nil
}

func (ParquetSaver) Info(path string) (model.SeriesInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.SeriesInfo{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return model.SeriesInfo{}, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return model.SeriesInfo{}, fmt.Errorf("open %s: %w", path, err)
	}

	info := model.SeriesInfo{Path: path, RecordCount: int(pf.NumRows())}
	id, ok := pf.Lookup(MetaInstrumentID)
	if !ok {
		return model.SeriesInfo{}, errors.New("missing " + MetaInstrumentID + " metadata: " + path)
	}
	info.InstrumentID = id
	if v, ok := pf.Lookup(MetaRecordCount); ok {
		if n, err := strconv.Atoi(v); err == nil {
			info.RecordCount = n
		}
	}
	if v, ok := pf.Lookup(MetaFirstDate); ok {
		info.FirstDate, _ = model.ParseDate(v)
	}
	if v, ok := pf.Lookup(MetaLastDate); ok {
		info.LastDate, _ = model.ParseDate(v)
	}
	return info, nil
}
