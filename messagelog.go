package livechat

import (
	"encoding/json"
	"slices"
)

// messageLog is an append-only list of raw frames in arrival order.
// With a positive limit it keeps only the newest limit frames.
type messageLog struct {
	limit int
	items []json.RawMessage
	total int
}

func newMessageLog(limit int) *messageLog {
	return &messageLog{limit: limit}
}

// append stores a private copy of raw; the session hands the same frame
// to every listener.
func (l *messageLog) append(raw json.RawMessage) {
	raw = slices.Clone(raw)
	l.total++
	if l.limit > 0 && len(l.items) == l.limit {
		// Shift in place; the backing array never grows past limit.
		copy(l.items, l.items[1:])
		l.items[len(l.items)-1] = raw
		return
	}
	l.items = append(l.items, raw)
}

// received counts every appended frame, including evicted ones.
func (l *messageLog) received() int {
	return l.total
}

func (l *messageLog) len() int {
	return len(l.items)
}

// snapshot returns a deep copy callers may keep and modify. The frames
// share one backing buffer.
func (l *messageLog) snapshot() []json.RawMessage {
	size := 0
	for _, raw := range l.items {
		size += len(raw)
	}

	buf := make([]byte, 0, size)
	out := make([]json.RawMessage, len(l.items))
	for i, raw := range l.items {
		start := len(buf)
		buf = append(buf, raw...)
		out[i] = json.RawMessage(buf[start:len(buf):len(buf)])
	}
	return out
}
