package m307

import (
	"context"
	"fmt"
	"iter"
)

// LogReaderOptions configures a log drain.
type LogReaderOptions struct {
	// Reset rewinds the device log pointer before the first entry.
	Reset bool

	// Resolution scales logged temperatures. When ResolutionUnknown the
	// reader asks the client, which reads the status once if needed.
	Resolution Resolution
}

// LogReader drains the device log one request per entry.
//
// The sequence is lazy: nothing is sent until the first call to Next. It
// ends normally when the device answers with the end marker. A transport
// failure ends it with an error; there are no retries. To resume after a
// failure, open a new session and create a reader without Reset, which
// continues from the device's log pointer.
type LogReader struct {
	c    *Client
	opts LogReaderOptions
	res  Resolution

	started bool
	done    bool
	count   int
}

// NewLogReader returns a reader over the device log.
func (c *Client) NewLogReader(opts LogReaderOptions) *LogReader {
	return &LogReader{c: c, opts: opts, res: opts.Resolution}
}

// Next returns the next entry.
//
// Returns:
//   - LogEntry: The entry, when ok
//   - bool: false once the end marker has been seen (or after an error)
//   - error: Transport or decode failure; the reader is finished
func (r *LogReader) Next(ctx context.Context) (LogEntry, bool, error) {
	if r.done {
		return LogEntry{}, false, nil
	}

	if r.res == ResolutionUnknown {
		res, err := r.c.Resolution(ctx)
		if err != nil {
			r.done = true
			return LogEntry{}, false, fmt.Errorf("log: resolve resolution: %w", err)
		}
		r.res = res
	}

	reset := r.opts.Reset && !r.started
	r.started = true

	entry, ok, err := r.c.ReadLogEntry(ctx, reset, r.res)
	if err != nil {
		r.done = true
		return LogEntry{}, false, fmt.Errorf("log entry %d: %w", r.count+1, err)
	}
	if !ok {
		r.done = true
		return LogEntry{}, false, nil
	}

	r.count++
	if r.count > MaxLogEntries {
		r.done = true
		return LogEntry{}, false, fmt.Errorf("%w: log exceeds %d entries without end marker", ErrProtocol, MaxLogEntries)
	}
	return entry, true, nil
}

// Entries returns the remaining entries as a sequence. Iteration stops at the
// end marker, at the first error (yielded once with a zero entry) or when
// the loop body breaks.
func (r *LogReader) Entries(ctx context.Context) iter.Seq2[LogEntry, error] {
	return func(yield func(LogEntry, error) bool) {
		for {
			entry, ok, err := r.Next(ctx)
			if err != nil {
				yield(LogEntry{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Restart rewinds the reader. The next step rewinds the device log pointer
// and starts again from the oldest entry.
func (r *LogReader) Restart() {
	r.opts.Reset = true
	r.started = false
	r.done = false
	r.count = 0
}

// Count returns the number of entries read so far.
func (r *LogReader) Count() int {
	return r.count
}

// Done reports whether the sequence has finished.
func (r *LogReader) Done() bool {
	return r.done
}

// ReadLog drains the device log.
//
// With a nil consumer every entry is collected and returned. Otherwise each
// entry is passed to consumer as it arrives and the returned slice is nil;
// a consumer error stops the drain and is returned. When the drain fails
// part way, the entries collected so far are returned with the error.
func (c *Client) ReadLog(ctx context.Context, reset bool, consumer func(LogEntry) error) ([]LogEntry, error) {
	r := c.NewLogReader(LogReaderOptions{Reset: reset, Resolution: c.resolution})

	var entries []LogEntry
	for entry, err := range r.Entries(ctx) {
		if err != nil {
			return entries, err
		}
		if consumer == nil {
			entries = append(entries, entry)
			continue
		}
		if err := consumer(entry); err != nil {
			return nil, fmt.Errorf("log consumer: %w", err)
		}
	}

	c.logger.Info("m307 log drained", "entries", r.Count(), "reset", reset)
	return entries, nil
}
