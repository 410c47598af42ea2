package tdx

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"

	"tdx-data/internal/model"
)

const (
	maxPrice    = 1e6
	minNonZero  = 1e-4 // below this a "float" is an integer read with the wrong layout
	minQuantity = 1e-3
)

// Layout is one candidate binary arrangement of a 32-byte record.
// decode reports false when the field values are implausible under the layout.
type Layout struct {
	Name   string
	decode func(buf []byte, date model.Date) (model.QuoteRecord, bool)
}

// Layouts is the ordered fallback chain tried by Decode.
var Layouts = []Layout{
	{Name: "float", decode: decodeFloat},
	{Name: "float-intvol", decode: decodeFloatIntVolume},
	{Name: "fixed", decode: decodeFixed},
}

func u32(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
func f32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// round4 rounds through the shortest decimal form of the float32 so that a
// stored 1.2345f comes back as 1.2345 and not 1.2344999.
func round4(v float32) float64 {
	return decimal.NewFromFloat32(v).Round(4).InexactFloat64()
}

func roundInt(v uint32) float64 {
	return decimal.NewFromInt(int64(v)).InexactFloat64()
}

func roundFixed(v uint32) float64 {
	return decimal.New(int64(v), -2).Round(4).InexactFloat64()
}

func plausiblePrice(p float64) bool {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > maxPrice {
		return false
	}
	return p == 0 || p >= minNonZero
}

func plausibleQuantity(raw float32) bool {
	v := float64(raw)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return false
	}
	return v == 0 || v >= minQuantity
}

func plausiblePrices(r model.QuoteRecord) bool {
	for _, p := range [...]float64{r.Open, r.High, r.Low, r.Close} {
		if !plausiblePrice(p) {
			return false
		}
	}
	return r.Close > 0
}

// rawPrices checks the unrounded float32 prices: rounding would turn a
// misread integer (a denormal) into a clean zero.
func rawPrices(buf []byte) bool {
	for off := 4; off < 20; off += 4 {
		v := float64(f32(buf, off))
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxPrice {
			return false
		}
		if v != 0 && v < minNonZero {
			return false
		}
	}
	return true
}

func floatPrices(buf []byte, date model.Date) (model.QuoteRecord, bool) {
	if !rawPrices(buf) {
		return model.QuoteRecord{}, false
	}
	r := model.QuoteRecord{
		Date:  date,
		Open:  round4(f32(buf, 4)),
		High:  round4(f32(buf, 8)),
		Low:   round4(f32(buf, 12)),
		Close: round4(f32(buf, 16)),
	}
	return r, plausiblePrices(r)
}

// u32 date, f32 open/high/low/close, f32 amount, f32 volume, u32 prev_close.
func decodeFloat(buf []byte, date model.Date) (model.QuoteRecord, bool) {
	r, ok := floatPrices(buf, date)
	if !ok {
		return r, false
	}
	amount, volume := f32(buf, 20), f32(buf, 24)
	if !plausibleQuantity(amount) || !plausibleQuantity(volume) {
		return r, false
	}
	r.Amount = model.Float(round4(amount))
	r.Volume = model.Float(round4(volume))
	r.PrevClose = model.Float(roundInt(u32(buf, 28)))
	return r, true
}

// u32 date, f32 open/high/low/close, f32 amount, u32 volume, u32 prev_close.
func decodeFloatIntVolume(buf []byte, date model.Date) (model.QuoteRecord, bool) {
	r, ok := floatPrices(buf, date)
	if !ok {
		return r, false
	}
	amount := f32(buf, 20)
	if !plausibleQuantity(amount) {
		return r, false
	}
	r.Amount = model.Float(round4(amount))
	r.Volume = model.Float(roundInt(u32(buf, 24)))
	r.PrevClose = model.Float(roundInt(u32(buf, 28)))
	return r, true
}

// u32 date, u32 open/high/low/close in cents, f32 amount, u32 volume, u32 reserved.
func decodeFixed(buf []byte, date model.Date) (model.QuoteRecord, bool) {
	r := model.QuoteRecord{
		Date:  date,
		Open:  roundFixed(u32(buf, 4)),
		High:  roundFixed(u32(buf, 8)),
		Low:   roundFixed(u32(buf, 12)),
		Close: roundFixed(u32(buf, 16)),
	}
	if !plausiblePrices(r) {
		return r, false
	}
	amount := f32(buf, 20)
	if !plausibleQuantity(amount) {
		return r, false
	}
	r.Amount = model.Float(round4(amount))
	r.Volume = model.Float(roundInt(u32(buf, 24)))
	return r, true
}
