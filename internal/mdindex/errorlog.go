package mdindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/elog"
)

// Record is one append-only NDJSON line: a sync failure that occurred at
// a point in time, distinct from Entry's "currently invalid" snapshot.
type Record struct {
	FilePath  string    `json:"filePath"`
	TableName string    `json:"tableName"`
	Filename  string    `json:"filename"`
	Error     DiagError `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorLog is the append-only NDJSON error history of spec.md §4.4,
// kept separate from Diagnostics: diagnostics is "what's wrong right
// now", the error log is "what has ever gone wrong". A single-writer
// queue serializes appends so concurrent watcher/observer goroutines
// never interleave partial lines.
type ErrorLog struct {
	path string
	log  zerolog.Logger

	queue chan logWrite
	wg    sync.WaitGroup
}

type logWrite struct {
	rec *Record
	ack chan struct{}
}

// NewErrorLog starts the background appender for the NDJSON file at path.
func NewErrorLog(path string) *ErrorLog {
	l := &ErrorLog{
		path:  path,
		log:   elog.Logger.With().Str("component", "mdindex.errorlog").Logger(),
		queue: make(chan logWrite, 64),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

func (l *ErrorLog) drain() {
	defer l.wg.Done()
	for w := range l.queue {
		if w.rec == nil {
			if w.ack != nil {
				close(w.ack)
			}
			continue
		}
		if err := l.append(*w.rec); err != nil {
			l.log.Warn().Err(err).Msg("append error log failed")
		}
	}
}

func (l *ErrorLog) append(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// Append enqueues a Record for durable append. Non-blocking relative to
// the caller's hot path beyond the channel send.
func (l *ErrorLog) Append(rec Record) {
	l.queue <- logWrite{rec: &rec}
}

// Flush waits for every previously enqueued append to complete.
func (l *ErrorLog) Flush() {
	ack := make(chan struct{})
	l.queue <- logWrite{ack: ack}
	<-ack
}

// Close stops the background appender after draining pending writes.
func (l *ErrorLog) Close() {
	close(l.queue)
	l.wg.Wait()
}
