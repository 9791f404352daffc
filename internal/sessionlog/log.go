// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sessionlog persists one capture session as a CSV file:
//
//	time,w,x,y,z
//	<elapsed ms>,<w>,<x>,<y>,<z>
//
// Quaternion components use %f formatting (6 decimals).
package sessionlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/motion_logger/internal/orientation"
)

// Header is the fixed first row of every session log.
var Header = []string{"time", "w", "x", "y", "z"}

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sessionlog: log closed")

// file is the part of *os.File a Log writes through.
type file interface {
	io.WriteSeeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Log is an open session log. It owns the file handle until Close.
type Log struct {
	path string
	file file
	csv  *csv.Writer
	rows int
}

// Begin truncates or creates path and writes the header row.
func Begin(path string) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: create %s: %w", path, err)
	}

	l := &Log{path: path, file: f, csv: csv.NewWriter(f)}
	if err := l.writeRow(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("sessionlog: write header: %w", err)
	}
	return l, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Rows returns the number of samples appended so far.
func (l *Log) Rows() int {
	return l.rows
}

// Append writes one sample and flushes it to the device. On error the
// sample is not counted; the log stays usable.
func (l *Log) Append(s orientation.Sample) error {
	if l.file == nil {
		return ErrClosed
	}
	if err := l.writeRow(FormatRow(s)); err != nil {
		return fmt.Errorf("sessionlog: append: %w", err)
	}
	l.rows++
	return nil
}

// writeRow appends one record. A failed write leaves no partial line
// behind: the file is cut back to where the record started.
func (l *Log) writeRow(row []string) error {
	off, err := l.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	err = l.csv.Write(row)
	if err == nil {
		l.csv.Flush()
		err = l.csv.Error()
	}
	if err != nil {
		// csv.Writer keeps a sticky error; start over on a fresh writer
		l.csv = csv.NewWriter(l.file)
		l.rewind(off)
		return err
	}
	return l.file.Sync()
}

func (l *Log) rewind(off int64) {
	if err := l.file.Truncate(off); err != nil {
		return
	}
	l.file.Seek(off, io.SeekStart)
}

// Close releases the file handle. Calling Close twice is a no-op.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("sessionlog: close: %w", err)
	}
	return nil
}

// FormatRow renders a sample as a CSV record.
func FormatRow(s orientation.Sample) []string {
	return []string{
		strconv.FormatUint(s.ElapsedMS, 10),
		formatFloat(s.Quat.W),
		formatFloat(s.Quat.X),
		formatFloat(s.Quat.Y),
		formatFloat(s.Quat.Z),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// ParseRow is the inverse of FormatRow.
func ParseRow(row []string) (orientation.Sample, error) {
	if len(row) != len(Header) {
		return orientation.Sample{}, fmt.Errorf("sessionlog: want %d fields, got %d", len(Header), len(row))
	}
	elapsed, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return orientation.Sample{}, fmt.Errorf("sessionlog: time %q: %w", row[0], err)
	}
	var q [4]float64
	for i := range q {
		q[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return orientation.Sample{}, fmt.Errorf("sessionlog: %s %q: %w", Header[i+1], row[i+1], err)
		}
	}
	return orientation.Sample{
		ElapsedMS: elapsed,
		Quat:      orientation.Quaternion{W: q[0], X: q[1], Y: q[2], Z: q[3]},
	}, nil
}

// ReadSamples parses a session log back into samples.
func ReadSamples(path string) ([]orientation.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("sessionlog: read header: %w", err)
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("sessionlog: unexpected header %q", head)
	}

	var samples []orientation.Sample
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sessionlog: read row: %w", err)
		}
		s, err := ParseRow(row)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
}

// EachLine calls fn with every line of the log, header included,
// without the trailing newline. It stops at the first error from fn.
func EachLine(path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sessionlog: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := fn(sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("sessionlog: read %s: %w", path, err)
	}
	return nil
}
