package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVDataProvider implements DataProvider by reading one CSV file per
// symbol from a directory. Each file is named "<symbol>.csv" and its header
// row must start with "timestamp,open,high,low,close,volume", optionally
// followed by "adjusted_close,split_coefficient,dividend_amount".
// timestamp may be a Unix epoch integer or an RFC3339 string.
type CSVDataProvider struct {
	Dir string
}

// NewCSVDataProvider returns a DataProvider reading "<symbol>.csv" files
// from dir.
func NewCSVDataProvider(dir string) *CSVDataProvider {
	return &CSVDataProvider{Dir: dir}
}

var csvRequiredHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// Load reads and parses symbol's CSV file, filtering to bars whose Unix
// timestamp falls within [start, end]. Rows that fail to parse are skipped
// with a warning, not treated as fatal; historical data exports are often
// messy and a single bad row should not sink the whole series.
func (p *CSVDataProvider) Load(ctx context.Context, symbol string, start, end int64) ([]*Bar, error) {
	path := fmt.Sprintf("%s/%s.csv", p.Dir, symbol)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // row length is checked per record below
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) < len(csvRequiredHeader) {
		return nil, fmt.Errorf("%s: expected header %v, got %v", path, csvRequiredHeader, header)
	}
	hasAdjusted := len(header) >= 9

	var bars []*Bar
	lineNum := 1
	for {
		select {
		case <-ctx.Done():
			return bars, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read record at line %d: %w", path, lineNum, err)
		}
		lineNum++

		if len(record) < len(csvRequiredHeader) {
			log.Warn().Str("file", path).Int("line", lineNum).Msg("skipping incomplete CSV record")
			continue
		}

		ts, ok := parseTimestamp(record[0])
		if !ok {
			log.Warn().Str("file", path).Int("line", lineNum).Str("timestamp", record[0]).Msg("failed to parse timestamp, skipping")
			continue
		}
		unixTS := ts.Unix()
		if unixTS < start || unixTS > end {
			continue
		}

		bar, ok := parseBarRecord(symbol, ts, record, hasAdjusted)
		if !ok {
			log.Warn().Str("file", path).Int("line", lineNum).Msg("failed to parse OHLCV fields, skipping")
			continue
		}
		bars = append(bars, bar)
	}

	log.Info().Str("symbol", symbol).Str("file", path).Int("bars", len(bars)).Msg("loaded bars from CSV")
	return bars, nil
}

// HasData reports whether symbol's CSV file exists and is readable; it does
// not guarantee it contains bars in [start, end].
func (p *CSVDataProvider) HasData(ctx context.Context, symbol string, start, end int64) (bool, error) {
	path := fmt.Sprintf("%s/%s.csv", p.Dir, symbol)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func parseTimestamp(raw string) (time.Time, bool) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func parseBarRecord(symbol string, ts time.Time, record []string, hasAdjusted bool) (*Bar, bool) {
	open, err1 := strconv.ParseFloat(record[1], 64)
	high, err2 := strconv.ParseFloat(record[2], 64)
	low, err3 := strconv.ParseFloat(record[3], 64)
	closePrice, err4 := strconv.ParseFloat(record[4], 64)
	volume, err5 := strconv.ParseFloat(record[5], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, false
	}

	bar := &Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}

	if hasAdjusted && len(record) >= 9 {
		if v, err := strconv.ParseFloat(record[6], 64); err == nil {
			bar.AdjustedClose = v
		}
		if v, err := strconv.ParseFloat(record[7], 64); err == nil {
			bar.SplitCoeff = v
		}
		if v, err := strconv.ParseFloat(record[8], 64); err == nil {
			bar.DividendAmount = v
		}
	}

	return bar, true
}
