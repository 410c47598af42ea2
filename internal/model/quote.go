package model

import "sort"

// RecordSize is the fixed byte length of one record in a source file.
const RecordSize = 32

// QuoteRecord is one trading-day observation for one instrument.
// Amount, Volume and PrevClose are nil when the source carried zero.
type QuoteRecord struct {
	Date      Date
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Amount    *float64
	Volume    *float64
	PrevClose *float64
}

// SourceFile is one binary input file. Never mutated once scanned.
type SourceFile struct {
	Path         string
	InstrumentID string
	Size         int64
	Fingerprint  string
}

// Series is the full ordered record sequence of one instrument.
type Series struct {
	InstrumentID string
	Records      []QuoteRecord
}

func (s Series) RecordCount() int { return len(s.Records) }

// SeriesInfo describes a stored series without loading its records.
type SeriesInfo struct {
	InstrumentID string
	RecordCount  int
	FirstDate    Date
	LastDate     Date
	Path         string
}

// SortAndDedupe sorts records ascending by date in place and drops earlier
// duplicates of the same date, so the last occurrence in input order wins.
func SortAndDedupe(records []QuoteRecord) []QuoteRecord {
	if len(records) < 2 {
		return records
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	out := records[:0]
	for i, r := range records {
		if i+1 < len(records) && records[i+1].Date == r.Date {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Float returns a pointer to v, or nil when v is zero.
func Float(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
