package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Segment is one finalized piece of transcript text.
type Segment struct {
	Seq        uint64
	Text       string
	Speaker    string
	ReceivedAt time.Time
}

// Batch accumulates segments between extraction starts.
//
// A Batch is owned by one session and is not safe for concurrent use; the
// Processor guards it.
type Batch struct {
	segments  []Segment
	length    int // runes of Text()
	startedAt time.Time
}

// NewBatch returns an empty batch whose clock starts at now.
func NewBatch(now time.Time) *Batch {
	return &Batch{startedAt: now}
}

// Append adds seg to the batch. seg.Text must already be trimmed and
// non-empty.
func (b *Batch) Append(seg Segment) {
	if len(b.segments) > 0 {
		b.length++ // joining space
	}
	b.length += utf8.RuneCountInString(seg.Text)
	b.segments = append(b.segments, seg)
}

// Len is the rune count of Text.
func (b *Batch) Len() int {
	return b.length
}

// Empty reports whether the batch holds no text.
func (b *Batch) Empty() bool {
	return len(b.segments) == 0
}

// Text joins the segments with single spaces.
func (b *Batch) Text() string {
	parts := make([]string, len(b.segments))
	for i, s := range b.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the batched segments in arrival order.
func (b *Batch) Segments() []Segment {
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// StartedAt is when the last extraction started, or when the session began
// if none has.
func (b *Batch) StartedAt() time.Time {
	return b.startedAt
}

// Elapsed is the time since StartedAt.
func (b *Batch) Elapsed(now time.Time) time.Duration {
	return now.Sub(b.startedAt)
}

// Drain returns the batch text and resets the batch, restarting its clock
// at now.
func (b *Batch) Drain(now time.Time) string {
	text := b.Text()
	b.segments = nil
	b.length = 0
	b.startedAt = now
	return text
}
