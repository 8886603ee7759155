package driver

import "sync"

// consoleLimit bounds the console lines kept per browser.
const consoleLimit = 1000

// consoleBuffer keeps the most recent page console lines.
type consoleBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func (b *consoleBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lines == nil {
		b.lines = make([]string, consoleLimit)
	}
	b.lines[b.next] = line
	b.next = (b.next + 1) % consoleLimit
	if b.next == 0 {
		b.full = true
	}
}

// snapshot returns the buffered lines, oldest first.
func (b *consoleBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, consoleLimit)
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}
