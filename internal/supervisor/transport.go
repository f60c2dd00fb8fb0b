package supervisor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Transport sends and receives Messages across a length-prefixed JSON
// stream, used for both the real OS-pipe implementation and in-memory
// test doubles (via io.Pipe).
type Transport struct {
	w  io.Writer
	r  io.Reader
	mu sync.Mutex // serializes writes from concurrent goroutines
}

// NewTransport wraps w/r as a framed Message channel.
func NewTransport(w io.Writer, r io.Reader) *Transport {
	return &Transport{w: w, r: r}
}

// Send writes one length-prefixed JSON-encoded Message.
func (t *Transport) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("supervisor: encode message: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := t.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("supervisor: write frame length: %w", err)
	}
	if _, err := t.w.Write(payload); err != nil {
		return fmt.Errorf("supervisor: write frame body: %w", err)
	}
	return nil
}

// Recv reads the next Message. It returns io.EOF when the peer has
// closed the stream (the normal way a worker process exit is detected).
func (t *Transport) Recv() (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		return Message{}, fmt.Errorf("supervisor: read frame body: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("supervisor: decode message: %w", err)
	}
	return msg, nil
}
