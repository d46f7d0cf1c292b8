package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"servermonitor/collector"
)

// NotAvailable marks an absent latency in the CSV log.
const NotAvailable = "N/A"

// Header is the first row of every CSV log. Column names are kept from the
// legacy agent so existing spreadsheets keep working.
var Header = []string{
	"Fecha", "CPU (%)", "RAM (%)", "Disco (%)",
	"Bytes Enviados", "Bytes Recibidos", "Endpoint",
	"Disponible", "Latencia (s)",
}

// CSVLog is the append-only observation log.
type CSVLog struct {
	path string
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewCSVLog returns a log writing to path. Nothing touches the disk until
// the first Append.
func NewCSVLog(path string, log *zap.Logger) *CSVLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVLog{path: path, log: log}
}

// Path returns the file the log writes to.
func (c *CSVLog) Path() string { return c.path }

// Append writes one row. The header goes out in the same write as the first
// row when the file is missing or empty; the row is synced before returning.
func (c *CSVLog) Append(_ context.Context, o Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	needHeader := false
	switch st, err := os.Stat(c.path); {
	case errors.Is(err, os.ErrNotExist):
		needHeader = true
		if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	case err != nil:
		return fmt.Errorf("stat %s: %w", c.path, err)
	default:
		needHeader = st.Size() == 0
	}

	records := [][]string{encodeRow(o)}
	if needHeader {
		records = [][]string{Header, records[0]}
	}
	var buf bytes.Buffer
	if err := csv.NewWriter(&buf).WriteAll(records); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", c.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", c.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.path, err)
	}

	if needHeader {
		c.log.Info("observation log created", zap.String("path", c.path))
	}
	return nil
}

// Close implements Store. Files are opened per append, so this only stops
// further writes.
func (c *CSVLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func encodeRow(o Observation) []string {
	latency := NotAvailable
	if o.Latency != nil {
		latency = formatFloat(*o.Latency)
	}
	return []string{
		o.Timestamp.Format(collector.TimestampLayout),
		formatFloat(o.CPUPercent),
		formatFloat(o.MemPercent),
		formatFloat(o.DiskPercent),
		strconv.FormatUint(o.NetBytesSent, 10),
		strconv.FormatUint(o.NetBytesRecv, 10),
		o.Endpoint,
		formatBool(o.Available),
		latency,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatBool matches the legacy log, which spelled booleans True/False.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ReadCSV reads a log written by CSVLog back into observations.
// Timestamps are interpreted in the local zone, as they were written.
func ReadCSV(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCSV(f)
}

// DecodeCSV parses a CSV log from r. The first record must be Header.
func DecodeCSV(r io.Reader) ([]Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("unexpected header column %d: %q", i, head[i])
		}
	}

	var out []Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		o, err := decodeRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, o)
	}
}

func decodeRow(rec []string) (Observation, error) {
	var o Observation
	var err error

	if o.Timestamp, err = time.ParseInLocation(collector.TimestampLayout, rec[0], time.Local); err != nil {
		return o, fmt.Errorf("timestamp: %w", err)
	}
	if o.CPUPercent, err = strconv.ParseFloat(rec[1], 64); err != nil {
		return o, fmt.Errorf("cpu: %w", err)
	}
	if o.MemPercent, err = strconv.ParseFloat(rec[2], 64); err != nil {
		return o, fmt.Errorf("ram: %w", err)
	}
	if o.DiskPercent, err = strconv.ParseFloat(rec[3], 64); err != nil {
		return o, fmt.Errorf("disk: %w", err)
	}
	if o.NetBytesSent, err = strconv.ParseUint(rec[4], 10, 64); err != nil {
		return o, fmt.Errorf("bytes sent: %w", err)
	}
	if o.NetBytesRecv, err = strconv.ParseUint(rec[5], 10, 64); err != nil {
		return o, fmt.Errorf("bytes recv: %w", err)
	}
	o.Endpoint = rec[6]
	if o.Available, err = strconv.ParseBool(rec[7]); err != nil {
		return o, fmt.Errorf("available: %w", err)
	}
	if rec[8] != NotAvailable {
		v, err := strconv.ParseFloat(rec[8], 64)
		if err != nil {
			return o, fmt.Errorf("latency: %w", err)
		}
		o.Latency = &v
	}
	return o, nil
}
