// Package tdx decodes the fixed-size 32-byte daily quote records found in
// .day files.
package tdx

import (
	"errors"
	"fmt"

	"tdx-data/internal/model"
)

// ErrRecordSize is returned by DecodeFile when the data length is not a
// multiple of model.RecordSize.
var ErrRecordSize = errors.New("tdx: size is not a multiple of the record size")

// Outcome tags a Decode result.
type Outcome int

const (
	OK            Outcome = iota
	UnknownLayout         // valid date, no layout produced plausible values
	Malformed             // wrong length or invalid date field
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case UnknownLayout:
		return "unknown-layout"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of decoding one record.
type Result struct {
	Outcome Outcome
	Record  model.QuoteRecord
	Layout  string
}

// Decode decodes one record, trying each entry of Layouts in order.
func Decode(buf []byte) Result {
	if len(buf) != model.RecordSize {
		return Result{Outcome: Malformed}
	}
	date, ok := model.DateFromYYYYMMDD(u32(buf, 0))
	if !ok {
		return Result{Outcome: Malformed}
	}
	for _, l := range Layouts {
		if r, ok := l.decode(buf, date); ok {
			return Result{Outcome: OK, Record: r, Layout: l.Name}
		}
	}
	return Result{Outcome: UnknownLayout}
}

// Decoded is the outcome of decoding a whole file.
type Decoded struct {
	Records   []model.QuoteRecord
	Total     int
	Unknown   int
	Malformed int
	Layouts   map[string]int
}

// Anomalies is the number of records that contributed nothing.
func (d Decoded) Anomalies() int { return d.Unknown + d.Malformed }

// DecodeFile decodes every record of data. Records that fail all layouts are
// skipped and counted; only a bad overall size is an error.
func DecodeFile(data []byte) (Decoded, error) {
	if len(data)%model.RecordSize != 0 {
		return Decoded{}, fmt.Errorf("%w: %d bytes", ErrRecordSize, len(data))
	}
	n := len(data) / model.RecordSize
	out := Decoded{
		Records: make([]model.QuoteRecord, 0, n),
		Total:   n,
		Layouts: make(map[string]int, len(Layouts)),
	}
	for i := 0; i < n; i++ {
		res := Decode(data[i*model.RecordSize : (i+1)*model.RecordSize])
		switch res.Outcome {
		case OK:
			out.Records = append(out.Records, res.Record)
			out.Layouts[res.Layout]++
		case UnknownLayout:
			out.Unknown++
		default:
			out.Malformed++
		}
	}
	return out, nil
}
