package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servermonitor/collector"
)

func obs(endpoint string, available bool, latency *float64) Observation {
	return Observation{
		Sample: collector.Sample{
			Timestamp:    time.Date(2024, 5, 1, 10, 30, 15, 0, time.Local),
			CPUPercent:   12.5,
			MemPercent:   48.3,
			DiskPercent:  71,
			NetBytesSent: 123456789,
			NetBytesRecv: 987654321,
		},
		Endpoint:  endpoint,
		Available: available,
		Latency:   latency,
	}
}

func ptr(v float64) *float64 { return &v }

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCSVLog_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	ctx := context.Background()

	first := NewCSVLog(path, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Append(ctx, obs("https://a", true, ptr(0.1))))
	}
	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.Equal(t, "Fecha,CPU (%),RAM (%),Disco (%),Bytes Enviados,Bytes Recibidos,Endpoint,Disponible,Latencia (s)", lines[0])

	// a new writer on the now-existing file, as after an agent restart
	second := NewCSVLog(path, nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, second.Append(ctx, obs("https://b", false, nil)))
	}
	lines = readLines(t, path)
	require.Len(t, lines, 6)

	headers := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "Fecha,") {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
}

func TestCSVLog_EmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, NewCSVLog(path, nil).Append(context.Background(), obs("https://a", true, ptr(1))))
	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Fecha,"))
}

func TestCSVLog_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "metrics.csv")
	require.NoError(t, NewCSVLog(path, nil).Append(context.Background(), obs("https://a", true, ptr(1))))
	assert.FileExists(t, path)
}

func TestCSVLog_RowFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	l := NewCSVLog(path, nil)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, obs("https://184.168.28.51/index.aspx", true, ptr(0.254))))
	require.NoError(t, l.Append(ctx, obs("https://down.example.com", false, nil)))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "2024-05-01 10:30:15,12.5,48.3,71,123456789,987654321,https://184.168.28.51/index.aspx,True,0.254", lines[1])
	assert.Equal(t, "2024-05-01 10:30:15,12.5,48.3,71,123456789,987654321,https://down.example.com,False,N/A", lines[2])
}

func TestCSVLog_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	l := NewCSVLog(path, nil)
	ctx := context.Background()

	want := []Observation{
		obs("https://a.example.com/health?x=1,2", true, ptr(0.123456789)),
		obs("https://b.example.com", false, nil),
		// non-200: down, but the round trip was measured
		obs("https://c.example.com", false, ptr(3.5)),
	}
	for _, o := range want {
		require.NoError(t, l.Append(ctx, o))
	}

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		got[i].Timestamp = want[i].Timestamp
		assert.Equal(t, want[i], got[i])
	}
}

func TestCSVLog_AppendAfterClose(t *testing.T) {
	l := NewCSVLog(filepath.Join(t.TempDir(), "metrics.csv"), nil)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Append(context.Background(), obs("https://a", true, nil)), ErrClosed)
}

func TestCSVLog_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	// a directory where the file should be
	path := filepath.Join(dir, "metrics.csv")
	require.NoError(t, os.Mkdir(path, 0o755))

	err := NewCSVLog(path, nil).Append(context.Background(), obs("https://a", true, nil))
	assert.Error(t, err)
}

func TestDecodeCSV(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got, err := DecodeCSV(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("wrong header", func(t *testing.T) {
		_, err := DecodeCSV(strings.NewReader("a,b,c,d,e,f,g,h,i\n"))
		assert.Error(t, err)
	})
	t.Run("bad latency", func(t *testing.T) {
		in := strings.Join(Header, ",") + "\n2024-05-01 10:30:15,1,2,3,4,5,https://a,True,fast\n"
		_, err := DecodeCSV(strings.NewReader(in))
		assert.Error(t, err)
	})
}

func TestMulti(t *testing.T) {
	dir := t.TempDir()
	a := NewCSVLog(filepath.Join(dir, "a.csv"), nil)
	b := NewCSVLog(filepath.Join(dir, "b.csv"), nil)
	require.NoError(t, b.Close())

	m := Multi{b, a}
	err := m.Append(context.Background(), obs("https://a", true, nil))
	assert.ErrorIs(t, err, ErrClosed)

	// the healthy store still got its row
	got, readErr := ReadCSV(a.Path())
	require.NoError(t, readErr)
	assert.Len(t, got, 1)
	assert.NoError(t, m.Close())
}

type steadyHost struct{}

func (steadyHost) CPUPercent(context.Context, time.Duration) (float64, error) { return 12.5, nil }
func (steadyHost) MemPercent(context.Context) (float64, error)                { return 48.3, nil }
func (steadyHost) DiskPercent(context.Context, string) (float64, error)       { return 71, nil }
func (steadyHost) NetCounters(context.Context) (uint64, uint64, error)        { return 100, 200, nil }

func TestCSVLog_RoundTripLiveSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	l := NewCSVLog(path, nil)

	sample := collector.NewSampler(steadyHost{}, nil, "/", 0, nil).Sample(context.Background())
	want := collector.NewObservation(sample, collector.ProbeResult{
		URL: "https://a", Available: true, Latency: 150 * time.Millisecond, Measured: true,
	})
	require.NoError(t, l.Append(context.Background(), want))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, want.Timestamp.Equal(got[0].Timestamp), "written=%s read=%s", want.Timestamp, got[0].Timestamp)
	got[0].Timestamp = want.Timestamp
	assert.Equal(t, want, got[0])
}

func TestSQLiteAndCSV_SameTimestamp(t *testing.T) {
	dir := t.TempDir()
	csvLog := NewCSVLog(filepath.Join(dir, "metrics.csv"), nil)
	db, err := NewSQLite(filepath.Join(dir, "observations.db"), nil)
	require.NoError(t, err)
	store := Multi{csvLog, db}
	defer store.Close()

	sample := collector.NewSampler(steadyHost{}, nil, "/", 0, nil).Sample(context.Background())
	require.NoError(t, store.Append(context.Background(), collector.NewObservation(sample, collector.ProbeResult{URL: "https://a"})))

	fromCSV, err := ReadCSV(csvLog.Path())
	require.NoError(t, err)
	fromDB, err := db.Query(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, fromCSV, 1)
	require.Len(t, fromDB, 1)
	assert.True(t, fromCSV[0].Timestamp.Equal(fromDB[0].Timestamp))
}
