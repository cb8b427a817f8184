package runner

import (
	"sync"
	"unicode/utf8"
)

// tail is an io.Writer keeping the last max bytes written to it
type tail struct {
	mx    sync.Mutex
	max   int
	buf   []byte
	total int64
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) Write(p []byte) (int, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.total += int64(len(p))
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[:copy(t.buf, t.buf[over:])]
	}
	return len(p), nil
}

// String returns the retained bytes, starting on a rune boundary
func (t *tail) String() string {
	t.mx.Lock()
	defer t.mx.Unlock()
	b := t.buf
	for len(b) > 0 && !utf8.RuneStart(b[0]) {
		b = b[1:]
	}
	return string(b)
}

// Total returns the number of bytes ever written
func (t *tail) Total() int64 {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.total
}
