package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlatformTimeLayout is the layout the manager API uses for query parameters.
const PlatformTimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{
	PlatformTimeLayout,
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// envelopeKeys are the wrapper objects the API has been seen to return around the trade list.
var envelopeKeys = []string{"data", "trades", "result", "items"}

// flexString accepts a JSON string or a bare number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(string(b))
	return nil
}

// flexDecimal accepts a JSON number, a numeric string, an empty string or null.
// A value that does not parse decodes to zero with invalid set, so one bad
// field never fails the whole record.
type flexDecimal struct {
	decimal.Decimal
	present bool
	invalid bool
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	d.Decimal = decimal.Zero
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		d.invalid = true
		return nil
	}
	d.Decimal = v
	d.present = true
	return nil
}

var (
	ErrMissingPosition = errors.New("trade record has no position id")
	ErrMissingAccount  = errors.New("trade record has no account")
	ErrMissingVolume   = errors.New("trade record has no usable volume")
)

// rawTrade mirrors one element of GetCloseTradeAllUsers. encoding/json matches
// keys case-insensitively, which covers the camelCase and PascalCase variants.
type rawTrade struct {
	Login      flexString  `json:"Login"`
	MT5Account flexString  `json:"MT5Account"`
	PositionID flexString  `json:"PositionId"`
	Position   flexString  `json:"Position"`
	Ticket     flexString  `json:"Ticket"`
	Symbol     flexString  `json:"Symbol"`
	OpenTime   flexString  `json:"OpenTime"`
	CloseTime  flexString  `json:"CloseTime"`
	OpenPrice  flexDecimal `json:"OpenPrice"`
	ClosePrice flexDecimal `json:"ClosePrice"`
	Profit     flexDecimal `json:"Profit"`
	Lot        flexDecimal `json:"Lot"`
	Volume     flexDecimal `json:"Volume"`
	Commission flexDecimal `json:"Commission"`
	Swap       flexDecimal `json:"Swap"`
	Comment    flexString  `json:"Comment"`
	Reason     flexDecimal `json:"Reason"`
	Entry      flexDecimal `json:"Entry"`
}

// normalize rejects a record only when it cannot be ledgered: no position id,
// no account or no volume. Any other field that fails to parse is zeroed and
// reported back in degraded.
func (r rawTrade) normalize() (out ClosedTrade, degraded []string, err error) {
	out = ClosedTrade{
		Account:    firstNonEmpty(string(r.Login), string(r.MT5Account)),
		PositionID: firstNonEmpty(string(r.PositionID), string(r.Position)),
		Ticket:     string(r.Ticket),
		Symbol:     strings.TrimSpace(string(r.Symbol)),
		OpenPrice:  r.OpenPrice.Decimal,
		ClosePrice: r.ClosePrice.Decimal,
		Profit:     r.Profit.Decimal,
		Commission: r.Commission.Decimal,
		Swap:       r.Swap.Decimal,
		Comment:    string(r.Comment),
		Reason:     int(r.Reason.IntPart()),
		Entry:      int(r.Entry.IntPart()),
	}
	switch {
	case out.PositionID == "":
		return ClosedTrade{}, nil, ErrMissingPosition
	case out.Account == "":
		return ClosedTrade{}, nil, ErrMissingAccount
	}
	switch {
	case r.Lot.present && !r.Lot.IsZero():
		out.Volume = r.Lot.Decimal
	case r.Volume.present:
		out.Volume = r.Volume.Decimal
	case r.Lot.present:
		out.Volume = r.Lot.Decimal
	default:
		return ClosedTrade{}, nil, ErrMissingVolume
	}

	for _, f := range []struct {
		name string
		d    flexDecimal
	}{
		{"OpenPrice", r.OpenPrice}, {"ClosePrice", r.ClosePrice}, {"Profit", r.Profit},
		{"Commission", r.Commission}, {"Swap", r.Swap}, {"Reason", r.Reason}, {"Entry", r.Entry},
	} {
		if f.d.invalid {
			degraded = append(degraded, f.name)
		}
	}
	if out.OpenTime, err = ParsePlatformTime(string(r.OpenTime)); err != nil {
		out.OpenTime = time.Time{}
		degraded = append(degraded, "OpenTime")
	}
	if out.CloseTime, err = ParsePlatformTime(string(r.CloseTime)); err != nil {
		out.CloseTime = time.Time{}
		degraded = append(degraded, "CloseTime")
	}
	return out, degraded, nil
}

// DegradedRecord names a kept trade whose listed fields were unreadable and
// stored as zero values.
type DegradedRecord struct {
	PositionID string
	Fields     []string
}

type ParseReport struct {
	// Skipped counts elements that could not be ledgered at all.
	Skipped  int
	Degraded []DegradedRecord
}

// ParseClosedTrades decodes a GetCloseTradeAllUsers body. ok is false when the
// body is not a trade list (error object, null, scalar); callers treat that as
// zero trades.
func ParseClosedTrades(body []byte) (trades []ClosedTrade, report ParseReport, ok bool) {
	items, ok := tradeItems(body)
	if !ok {
		return nil, ParseReport{}, false
	}
	trades = make([]ClosedTrade, 0, len(items))
	for _, item := range items {
		var raw rawTrade
		if err := json.Unmarshal(item, &raw); err != nil {
			report.Skipped++
			continue
		}
		t, degraded, err := raw.normalize()
		if err != nil {
			report.Skipped++
			continue
		}
		if len(degraded) > 0 {
			report.Degraded = append(report.Degraded, DegradedRecord{PositionID: t.PositionID, Fields: degraded})
		}
		trades = append(trades, t)
	}
	return trades, report, true
}

func tradeItems(body []byte) ([]json.RawMessage, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, false
		}
		return items, true
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, false
		}
		for key, val := range obj {
			for _, want := range envelopeKeys {
				if strings.EqualFold(key, want) {
					if items, ok := tradeItems(val); ok {
						return items, true
					}
				}
			}
		}
	}
	return nil, false
}

// ParsePlatformTime parses the platform's time strings into UTC. Empty input
// yields the zero time; an all-digit value is unix seconds (or millis).
func ParsePlatformTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized platform time: " + raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
