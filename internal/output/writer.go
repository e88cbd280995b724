package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/gustycube/podwatch/internal/model"
)

// Format represents the output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

var csvHeader = []string{
	"id", "name", "status", "uptime", "latency", "storage_used", "storage_capacity",
	"storage_usage_percent", "location", "region", "city", "lat", "lng",
	"performance", "risk_score", "xdn_score", "stake", "rewards", "version",
	"is_public", "rpc_port", "address", "seed", "last_seen",
}

// Writer handles formatted output
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
}

// NewWriter creates a new output writer
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}

	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}

	return writer, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

// WriteRecords writes records in the configured format. JSON emits one
// indented array per call; JSONL and CSV emit one line per record.
func (w *Writer) WriteRecords(records []model.NodeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		if records == nil {
			records = []model.NodeRecord{}
		}
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)

	case FormatJSONL:
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if _, err := w.w.Write(data); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		return w.writeCSV(records)

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

func (w *Writer) writeCSV(records []model.NodeRecord) error {
	if !w.hasHeader {
		if err := w.csvWriter.Write(csvHeader); err != nil {
			return err
		}
		w.hasHeader = true
	}

	for _, r := range records {
		row := []string{
			r.ID,
			r.Name,
			r.Status,
			ftoa(r.Uptime),
			ftoa(r.Latency),
			strconv.FormatUint(r.StorageUsed, 10),
			strconv.FormatUint(r.StorageCapacity, 10),
			ftoa(r.StorageUsagePercent),
			r.Location,
			r.Region,
			r.City,
			ftoa(r.Lat),
			ftoa(r.Lng),
			ftoa(r.Performance),
			ftoa(r.RiskScore),
			ftoa(r.XDNScore),
			ftoa(r.Stake),
			ftoa(r.Rewards),
			r.Version,
			strconv.FormatBool(r.IsPublic),
			strconv.Itoa(r.RPCPort),
			r.Address,
			r.Seed,
			r.LastSeen.UTC().Format(time.RFC3339),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return err
		}
	}

	return w.csvWriter.Error()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.csvWriter != nil {
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
