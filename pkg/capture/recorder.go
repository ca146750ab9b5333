// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

// FileRecorder appends trace events to a file. It implements
// meterbus.Tracer and is safe for concurrent use.
type FileRecorder struct {
	file      *os.File
	encoder   *cbor.Encoder
	sessionID string
	transport string

	mu     sync.Mutex
	closed bool
	count  int
	err    error
}

// NewFileRecorder opens path for appending, creating it with permissions
// 0644 if needed. Every recorder gets a fresh session id.
func NewFileRecorder(path, transport string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{
		file:      f,
		encoder:   newEncoder(f),
		sessionID: uuid.New().String(),
		transport: transport,
	}, nil
}

// SessionID returns the id stamped on every event of this recorder.
func (r *FileRecorder) SessionID() string {
	return r.sessionID
}

// Trace implements meterbus.Tracer
func (r *FileRecorder) Trace(dir meterbus.Direction, raw []byte, decodeErr error) {
	event := Event{
		Timestamp: time.Now(),
		Direction: dir,
		Raw:       append([]byte(nil), raw...),
	}
	if decodeErr == nil {
		if f, err := meterbus.Decode(raw); err == nil {
			event.Kind = f.Kind().String()
		} else {
			decodeErr = err
		}
	}
	if decodeErr != nil {
		event.Error = decodeErr.Error()
	}
	r.Record(event)
}

// Record writes an event, filling in the session and transport. Write
// errors do not disrupt the bus; the first one is kept for Err.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	event.SessionID = r.sessionID
	if event.Transport == "" {
		event.Transport = r.transport
	}
	if err := r.encoder.Encode(event); err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.count++
}

// Count returns the number of events written.
func (r *FileRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error, if any.
func (r *FileRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the file. It is safe to call Close multiple times; later
// events are ignored.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Tee sends every trace to all tracers, e.g. a FileRecorder and a console
// printer.
type Tee []meterbus.Tracer

// Trace implements meterbus.Tracer
func (t Tee) Trace(dir meterbus.Direction, raw []byte, decodeErr error) {
	for _, tracer := range t {
		if tracer != nil {
			tracer.Trace(dir, raw, decodeErr)
		}
	}
}

// Compile-time interface satisfaction checks.
var (
	_ meterbus.Tracer = (*FileRecorder)(nil)
	_ meterbus.Tracer = Tee(nil)
)
