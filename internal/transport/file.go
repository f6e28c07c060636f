package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// FileTransport replays a recorded session from a file. Each line is either
// a JSON event or plain transcript text, which becomes a final transcript
// segment.
type FileTransport struct {
	path   string
	follow bool
	logger *logging.Logger
}

var _ Transport = (*FileTransport)(nil)

// NewFile creates a transport over path. With follow set, the session stays
// open at end of file and picks up appended lines until the file is removed
// or ctx is done.
func NewFile(path string, follow bool, logger *logging.Logger) *FileTransport {
	return &FileTransport{path: path, follow: follow, logger: logger}
}

// Join opens the file and starts delivering its events.
func (t *FileTransport) Join(ctx context.Context, sessionID string) (<-chan Event, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	var watcher *fsnotify.Watcher
	if t.follow {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		// Watch the directory so removal and rename are seen.
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			f.Close()
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", t.path, err)
		}
	}

	out := make(chan Event, eventBuffer)
	r := &lineReader{
		r:         bufio.NewReader(f),
		sessionID: sessionID,
		logger:    t.logger,
	}
	go func() {
		defer close(out)
		defer f.Close()
		if watcher != nil {
			defer watcher.Close()
		}

		if !send(ctx, out, Event{Kind: EventConnected, SessionID: sessionID}) {
			return
		}
		reason := t.pump(ctx, r, watcher, out)
		if reason != "" {
			send(ctx, out, Event{Kind: EventDisconnected, SessionID: sessionID, Reason: reason})
		}
	}()
	return out, nil
}

// pump delivers events until the file ends. It returns the disconnect
// reason, or "" when the stream already disconnected or ctx ended.
func (t *FileTransport) pump(ctx context.Context, r *lineReader, watcher *fsnotify.Watcher, out chan<- Event) string {
	target := filepath.Clean(t.path)
	for {
		for {
			ev, ok, err := r.next(ctx, watcher == nil)
			if err != nil {
				return err.Error()
			}
			if !ok {
				break
			}
			if !send(ctx, out, ev) {
				return ""
			}
			if ev.Kind == EventDisconnected {
				return ""
			}
		}

		if watcher == nil {
			return "end of file"
		}

		// Wait for the file to grow.
		for changed := false; !changed; {
			select {
			case <-ctx.Done():
				return ""
			case fe, ok := <-watcher.Events:
				if !ok {
					return "watcher closed"
				}
				if filepath.Clean(fe.Name) != target {
					continue
				}
				if fe.Has(fsnotify.Remove) || fe.Has(fsnotify.Rename) {
					return "transcript file removed"
				}
				changed = fe.Has(fsnotify.Write) || fe.Has(fsnotify.Create)
			case err, ok := <-watcher.Errors:
				if !ok {
					return "watcher closed"
				}
				t.logger.Warn(ctx, "transcript watcher error", zap.Error(err))
			}
		}
	}
}

// lineReader turns lines into events. Incomplete trailing lines are held
// back while following, since a writer may still be appending to them.
type lineReader struct {
	r         *bufio.Reader
	partial   []byte
	seq       uint64
	sessionID string
	logger    *logging.Logger
}

// next returns the next event. ok is false when no complete line is
// available yet.
func (lr *lineReader) next(ctx context.Context, atEOFIsFinal bool) (Event, bool, error) {
	for {
		chunk, err := lr.r.ReadBytes('\n')
		lr.partial = append(lr.partial, chunk...)
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, false, fmt.Errorf("read transcript: %w", err)
		}
		complete := err == nil
		if !complete && !(atEOFIsFinal && len(lr.partial) > 0) {
			return Event{}, false, nil
		}

		line := bytes.TrimSpace(lr.partial)
		lr.partial = lr.partial[:0]
		if len(line) == 0 {
			if !complete {
				return Event{}, false, nil
			}
			continue
		}
		if ev, ok := lr.decode(ctx, line); ok {
			return ev, true, nil
		}
	}
}

func (lr *lineReader) decode(ctx context.Context, line []byte) (Event, bool) {
	if line[0] == '{' {
		ev, err := DecodeEvent(line)
		if err != nil {
			lr.logger.Warn(ctx, "skipping malformed event line", zap.Error(err))
			return Event{}, false
		}
		if ev.Kind == EventConnected {
			return Event{}, false
		}
		ev.SessionID = lr.sessionID
		if ev.Kind == EventTranscript && ev.Seq == 0 {
			lr.seq++
			ev.Seq = lr.seq
		}
		return ev, true
	}

	lr.seq++
	return Event{
		Kind:      EventTranscript,
		SessionID: lr.sessionID,
		Text:      string(line),
		Final:     true,
		Seq:       lr.seq,
	}, true
}
