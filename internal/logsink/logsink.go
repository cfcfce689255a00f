// Package logsink is a rotating log file writer, consolidating the
// source's two near-identical Logger types (internal/logger.go and
// internal/splitlog) into the one this module actually needs: an
// io.Writer that opens a fresh dated file every maxWrites writes, for
// log.SetOutput.
package logsink

import (
	"os"
	"path/filepath"
	"time"
)

// maxWrites bounds how many log lines land in one file before it rolls
// over to a freshly dated one.
const maxWrites = 10000

const dateFmt = "2006-01-02T15:04:05"

// Sink is a rotating log file. The zero value is not usable; build one
// with Open.
type Sink struct {
	f      *os.File
	folder string
	prefix string
	num    int
}

// Open creates folder if needed and opens the first log file inside it,
// named "<prefix>-<timestamp>.log".
func Open(folder, prefix string) (*Sink, error) {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, err
	}
	s := &Sink{folder: folder, prefix: prefix}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write implements io.Writer, rolling over to a new file once maxWrites
// is reached.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, err
	}
	s.num++
	if s.num >= maxWrites {
		s.f.Close()
		if err := s.openFile(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close closes the current underlying file.
func (s *Sink) Close() error {
	return s.f.Close()
}

func (s *Sink) openFile() error {
	name := filepath.Join(s.folder, s.prefix+"-"+time.Now().Format(dateFmt)+".log")
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.f = f
	s.num = 0
	return nil
}
