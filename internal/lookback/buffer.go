// Package lookback remembers the most recent raw lines of a log stream.
package lookback

// Buffer is a fixed-capacity ring of lines. When full, the oldest line is
// evicted. A Buffer belongs to a single session and is not goroutine-safe.
type Buffer struct {
	lines    []string
	head     int // next write position
	count    int
	capacity int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

func (b *Buffer) Push(line string) {
	b.lines[b.head] = line
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// At returns the line offset steps back from the most recent one. Offset 0
// is the most recent line.
func (b *Buffer) At(offset int) (string, bool) {
	if offset < 0 || offset >= b.count {
		return "", false
	}
	idx := (b.head - 1 - offset + 2*b.capacity) % b.capacity
	return b.lines[idx], true
}

// FirstNotMatching scans back from the line before the most recent one and
// returns the first line for which matches reports false.
func (b *Buffer) FirstNotMatching(matches func(line string) bool) (string, bool) {
	for offset := 1; offset < b.count; offset++ {
		line, _ := b.At(offset)
		if !matches(line) {
			return line, true
		}
	}
	return "", false
}

// Snapshot returns the buffered lines from oldest to newest.
func (b *Buffer) Snapshot() []string {
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i], _ = b.At(b.count - 1 - i)
	}
	return out
}

func (b *Buffer) Len() int {
	return b.count
}

func (b *Buffer) Cap() int {
	return b.capacity
}
