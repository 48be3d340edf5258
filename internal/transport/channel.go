package transport

import (
	"bufio"
	"io"
	"sync"
)

// Channel carries envelopes in both directions. Send may be called from
// several goroutines; Receive from one.
type Channel interface {
	Send(env Envelope) error
	// Receive blocks for the next envelope. It fails once the channel is
	// closed or the peer went away.
	Receive() (Envelope, error)
	Close() error
}

// pipeBuffer is how many envelopes a pipe end queues before Send blocks.
const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan Envelope
	out  chan<- Envelope
	done chan struct{}
	once *sync.Once
}

// Pipe returns the two ends of an in-process channel. Envelopes are
// passed by reference, so payload buffers change hands without a copy.
// Closing either end closes both.
func Pipe() (Channel, Channel) {
	a := make(chan Envelope, pipeBuffer)
	b := make(chan Envelope, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: a, out: b, done: done, once: once},
		&pipeEnd{in: b, out: a, done: done, once: once}
}

func (p *pipeEnd) Send(env Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.done:
		return Envelope{}, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type streamChannel struct {
	rwc   io.ReadWriteCloser
	codec Codec
	r     *bufio.Reader

	mu sync.Mutex // serializes frames
	w  *bufio.Writer
}

// NewStreamChannel frames envelopes over rwc, typically the stdio of a
// worker process. Payloads above compressThreshold bytes are compressed.
func NewStreamChannel(rwc io.ReadWriteCloser, compressThreshold int) Channel {
	return &streamChannel{
		rwc:   rwc,
		codec: Codec{CompressThreshold: compressThreshold},
		r:     bufio.NewReaderSize(rwc, 64*1024),
		w:     bufio.NewWriterSize(rwc, 64*1024),
	}
}

func (s *streamChannel) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.codec.WriteFrame(s.w, env); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *streamChannel) Receive() (Envelope, error) {
	return s.codec.ReadFrame(s.r)
}

func (s *streamChannel) Close() error {
	return s.rwc.Close()
}
