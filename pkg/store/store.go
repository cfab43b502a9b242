// Package store persists speed test samples in an append-only log of
// newline-delimited JSON records.
//
// Each line is an independent record. Loading reads the whole file and
// skips lines that do not parse, so one corrupt record never hides the
// rest of the history.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrParse marks a stored line that could not be decoded.
var ErrParse = errors.New("malformed record")

// maxLineSize bounds a single record line.
const maxLineSize = 1 << 20

// Store is an append-only JSON lines file of samples.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Logger
}

// New returns a Store backed by the file at path. Neither the file nor its
// directory has to exist yet; both are created by the first Append.
func New(path string, logger *logrus.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the location of the log file.
func (s *Store) Path() string {
	return s.path
}

// Append writes the sample as one line at the end of the log.
// The record is written with a single write on an O_APPEND descriptor so
// concurrent writers in other processes never interleave partial records.
func (s *Store) Append(sample Sample) error {
	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}

	s.logger.Debugf("Appended sample recorded at %s to %s.", sample.RecordedAt.Format("2006-01-02T15:04:05Z"), s.path)
	return nil
}

// LoadAll reads every record in file order and converts rates to Mbps.
// Malformed lines are logged and skipped. A log that does not exist yet
// yields no rows and no error.
func (s *Store) LoadAll() ([]Row, error) {
	samples, err := s.Samples()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(samples))
	for _, sample := range samples {
		rows = append(rows, RowFromSample(sample))
	}
	return rows, nil
}

// Samples reads every record in file order without unit conversion.
func (s *Store) Samples() ([]Sample, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Sample{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	samples := []Sample{}
	r := bufio.NewReaderSize(f, 64*1024)

	lineNo := 0
	for {
		line, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			break
		}
		lineNo++
		if err == nil {
			if len(line) == 0 {
				continue
			}
			var sample Sample
			if sample, err = parseLine(line); err == nil {
				samples = append(samples, sample)
				continue
			}
		}
		if !errors.Is(err, ErrParse) {
			return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		s.logger.Warnf("Skipping line %d of %s: %v", lineNo, s.path, err)
	}

	return samples, nil
}

// readRecord returns the next line without its line ending. A line longer
// than maxLineSize is consumed up to its newline and reported as ErrParse.
// io.EOF is returned only once no bytes remain.
func readRecord(r *bufio.Reader) ([]byte, error) {
	var line []byte
	size := 0
	for {
		chunk, err := r.ReadSlice('\n')
		size += len(chunk)
		if size <= maxLineSize+1 {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if errors.Is(err, io.EOF) && size == 0 {
			return nil, io.EOF
		}
		if size > maxLineSize+1 {
			return nil, fmt.Errorf("%w: line of %d bytes exceeds %d", ErrParse, size, maxLineSize)
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		return bytes.TrimSuffix(line, []byte("\r")), nil
	}
}

func parseLine(line []byte) (Sample, error) {
	var sample Sample
	if err := json.Unmarshal(line, &sample); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return sample, nil
}
