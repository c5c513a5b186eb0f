// Package transferlog writes one structured record per file operation.
package transferlog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/lumberjack/v2"

	"github.com/joe/multisave/internal/backup"
)

var logger = loggo.GetLogger("multisave.transferlog")

// Record is one line of the transfer log.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	JobName          string    `json:"jobName"`
	RunID            string    `json:"runId,omitempty"`
	Action           string    `json:"action"`
	SourcePath       string    `json:"sourcePath,omitempty"`
	TargetPath       string    `json:"targetPath"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	TransferTimeMs   int64     `json:"transferTimeMs"`
	EncryptionTimeMs int64     `json:"encryptionTimeMs"`
	Error            string    `json:"error,omitempty"`
}

// Sink persists records.
type Sink interface {
	Write(Record) error
	Close() error
}

// JSONLinesSink appends records as JSON lines.
type JSONLinesSink struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *json.Encoder
}

// NewJSONLinesSink wraps any writer.
func NewJSONLinesSink(out io.WriteCloser) *JSONLinesSink {
	return &JSONLinesSink{out: out, enc: json.NewEncoder(out)}
}

// NewRotatingSink writes to path, rotating at maxSizeMB.
func NewRotatingSink(path string, maxSizeMB, maxBackups int) *JSONLinesSink {
	logger.Debugf("transfer log %q rotating at %d MB, keeping %d backups", path, maxSizeMB, maxBackups)

	return NewJSONLinesSink(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

// Write implements Sink.
func (s *JSONLinesSink) Write(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Trace(s.enc.Encode(record))
}

// Close implements Sink.
func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Trace(s.out.Close())
}

// Observer turns file-level job events into transfer records.
type Observer struct {
	sink Sink
}

var _ backup.Observer = (*Observer)(nil)

// NewObserver creates an observer feeding sink.
func NewObserver(sink Sink) *Observer {
	return &Observer{sink: sink}
}

// Update implements backup.Observer.
func (o *Observer) Update(event backup.Event) {
	switch event.Action {
	case backup.ActionProcessing, backup.ActionDelete, backup.ActionDeleteDir:
	default:
		return
	}

	if event.File == nil {
		return
	}

	record := Record{
		Timestamp:        event.Time,
		JobName:          event.Job.Name,
		RunID:            event.Job.RunID,
		Action:           string(event.Action),
		SourcePath:       event.File.SourcePath,
		TargetPath:       event.File.TargetPath,
		FileSizeBytes:    event.File.Size,
		TransferTimeMs:   event.File.TransferTimeMs,
		EncryptionTimeMs: event.File.EncryptionTimeMs,
	}
	if event.Err != nil {
		record.Error = event.Err.Error()
	}

	if err := o.sink.Write(record); err != nil {
		logger.Errorf("writing transfer record for %s: %v", record.TargetPath, err)
	}
}
