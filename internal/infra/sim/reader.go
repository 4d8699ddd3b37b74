package sim

import (
	"context"
	"sync"
)

// Reader simulates a proximity tag reader.
type Reader struct {
	mu         sync.Mutex
	uid        string
	failReads  int
	readErr    error
	resets     int
	resetError error
}

// NewReader creates a simulated reader with no tag placed.
func NewReader() *Reader {
	return &Reader{}
}

// Place puts a tag on the reader.
func (r *Reader) Place(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uid = uid
}

// Lift removes the tag from the reader.
func (r *Reader) Lift() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uid = ""
}

// FailReads makes the next n reads fail with err.
func (r *Reader) FailReads(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failReads = n
	r.readErr = err
}

// FailReset makes resets fail with err until cleared with nil.
func (r *Reader) FailReset(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetError = err
}

// Read implements tagreader.Reader.
func (r *Reader) Read(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failReads > 0 {
		r.failReads--
		return "", r.readErr
	}
	return r.uid, nil
}

// Reset implements tagreader.Reader.
func (r *Reader) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resets++
	if r.resetError != nil {
		return r.resetError
	}
	r.failReads = 0
	return nil
}

// Resets returns how many times the reader was reset.
func (r *Reader) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}
