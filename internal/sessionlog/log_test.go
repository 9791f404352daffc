package sessionlog

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/motion_logger/internal/orientation"
)

func sample(ms uint64, w, x, y, z float64) orientation.Sample {
	return orientation.Sample{ElapsedMS: ms, Quat: orientation.Quaternion{W: w, X: x, Y: y, Z: z}}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.csv")
	l, err := Begin(path)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	in := []orientation.Sample{
		sample(0, 1, 0, 0, 0),
		sample(10, 0.7071067811, 0.7071067811, 0, 0),
		sample(20, 0.5, -0.5, 0.5, -0.5),
		sample(4294967296, 0.123456789, -0.000001, 0.9, 0.1),
	}
	for _, s := range in {
		if err := l.Append(s); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if l.Rows() != len(in) {
		t.Errorf("Rows = %d, want %d", l.Rows(), len(in))
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != len(in)+1 {
		t.Fatalf("got %d lines, want %d", len(lines), len(in)+1)
	}
	if lines[0] != "time,w,x,y,z" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "10,0.707107,0.707107,0.000000,0.000000" {
		t.Errorf("row format = %q", lines[2])
	}

	out, err := ReadSamples(path)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("read %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].ElapsedMS != in[i].ElapsedMS {
			t.Errorf("row %d time = %d, want %d", i, out[i].ElapsedMS, in[i].ElapsedMS)
		}
		a, b := out[i].Quat, in[i].Quat
		for _, d := range []float64{a.W - b.W, a.X - b.X, a.Y - b.Y, a.Z - b.Z} {
			if math.Abs(d) > 5e-7 {
				t.Errorf("row %d quat = %+v, want %+v", i, a, b)
				break
			}
		}
	}
}

func TestBeginTruncatesPreviousSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.csv")
	l, err := Begin(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		l.Append(sample(uint64(i), 1, 0, 0, 0))
	}
	l.Close()

	l, err = Begin(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append(sample(0, 1, 0, 0, 0))
	l.Close()

	out, err := ReadSamples(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("read %d samples after restart, want 1", len(out))
	}
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Begin(filepath.Join(t.TempDir(), "shots.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := l.Append(sample(0, 1, 0, 0, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
}

func TestBeginFailsOnMissingDir(t *testing.T) {
	_, err := Begin(filepath.Join(t.TempDir(), "missing", "shots.csv"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEachLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.csv")
	l, _ := Begin(path)
	l.Append(sample(1, 1, 0, 0, 0))
	l.Append(sample(2, 1, 0, 0, 0))
	l.Close()

	var lines []string
	err := EachLine(path, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"time,w,x,y,z", "1,1.000000,0.000000,0.000000,0.000000", "2,1.000000,0.000000,0.000000,0.000000"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q", lines)
	}

	stop := errors.New("stop")
	calls := 0
	err = EachLine(path, func(string) error { calls++; return stop })
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("EachLine did not stop: err %v, calls %d", err, calls)
	}
}

func TestParseRowErrors(t *testing.T) {
	bad := [][]string{
		{"1", "2"},
		{"-1", "1", "0", "0", "0"},
		{"1", "nan?", "0", "0", "0"},
	}
	for _, row := range bad {
		if _, err := ParseRow(row); err == nil {
			t.Errorf("ParseRow(%q) succeeded", row)
		}
	}
}

// shortFile writes only half of the next buffer, then fails.
type shortFile struct {
	*os.File
	failNext bool
}

func (f *shortFile) Write(p []byte) (int, error) {
	if f.failNext {
		f.failNext = false
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errors.New("short write")
	}
	return f.File.Write(p)
}

func TestFailedAppendLeavesNoPartialRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.csv")
	l, err := Begin(path)
	if err != nil {
		t.Fatal(err)
	}
	sf := &shortFile{File: l.file.(*os.File)}
	l.file = sf
	l.csv = csv.NewWriter(sf)

	if err := l.Append(sample(0, 1, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}
	sf.failNext = true
	if err := l.Append(sample(10, 0.5, 0.5, 0.5, 0.5)); err == nil {
		t.Fatal("short write not reported")
	}
	if err := l.Append(sample(20, 0, 1, 0, 0)); err != nil {
		t.Fatalf("append after failure: %v", err)
	}
	l.Close()

	got, err := ReadSamples(path)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(got) != 2 || got[0].ElapsedMS != 0 || got[1].ElapsedMS != 20 {
		t.Errorf("samples = %+v, want rows at 0 and 20 ms", got)
	}
	if l.Rows() != 2 {
		t.Errorf("Rows = %d, want 2", l.Rows())
	}
}
