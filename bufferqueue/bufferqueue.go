/*
The bufferqueue package provides the ordered byte queue that sits between a
channel and the rest of the agent. Producers append opaque payload bytes at any
time; the channel drains the whole queue when it is ready to transmit. The
queue is the one resource shared across goroutines, so it carries its own lock.
*/
package bufferqueue

import (
	"bytes"
	"sync"
)

type Queue struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func New() *Queue {
	return &Queue{}
}

// Append adds bytes to the back of the queue. Safe to call while a drain is
// in progress on another goroutine; the bytes will be picked up by the next
// drain.
func (q *Queue) Append(data []byte) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.buf.Write(data)
}

// DrainAll removes and returns everything currently queued, leaving the queue
// empty. Returns nil when there is nothing queued.
func (q *Queue) DrainAll() []byte {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.buf.Len() == 0 {
		return nil
	}

	drained := make([]byte, q.buf.Len())
	copy(drained, q.buf.Bytes())
	q.buf.Reset()
	return drained
}

// Peek returns the first n bytes without removing them, or nil if fewer than
// n bytes are queued.
func (q *Queue) Peek(n int) []byte {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.buf.Len() < n {
		return nil
	}

	peeked := make([]byte, n)
	copy(peeked, q.buf.Bytes()[:n])
	return peeked
}

// Next removes and returns the first n bytes, or nil if fewer than n bytes
// are queued. A failed Next leaves the queue untouched.
func (q *Queue) Next(n int) []byte {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.buf.Len() < n {
		return nil
	}

	next := make([]byte, n)
	copy(next, q.buf.Next(n))
	return next
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.buf.Len()
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
