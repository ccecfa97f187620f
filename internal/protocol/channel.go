package protocol

import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned by Send after a channel endpoint has closed.
var ErrChannelClosed = errors.New("protocol: channel closed")

// Channel is one directed endpoint of a transport. Delivery is FIFO per
// channel; no ordering is guaranteed across two channels of one session.
type Channel interface {
	// Send delivers a message to the peer. Never blocks indefinitely:
	// implementations buffer and fail fast once closed.
	Send(Message) error
	// CloseNotify is closed when the channel is no longer usable.
	CloseNotify() <-chan struct{}
	// Close tears the channel down. Idempotent.
	Close() error
}

const pipeBufSize = 64

// Pipe is an in-process Channel whose sent messages are read from Recv by
// the owning component. The send side and receive side may live in
// different goroutines; ordering is the channel's FIFO order.
type Pipe struct {
	recv     chan Message
	done     chan struct{}
	closeOne sync.Once
}

// NewPipe creates a buffered in-process channel endpoint.
func NewPipe() *Pipe {
	return &Pipe{
		recv: make(chan Message, pipeBufSize),
		done: make(chan struct{}),
	}
}

// Send queues a message for the receiving side. Fails once closed or when
// the receiver has stopped draining and the buffer is full.
func (p *Pipe) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrChannelClosed
	default:
	}
	select {
	case p.recv <- msg:
		return nil
	case <-p.done:
		return ErrChannelClosed
	}
}

// Recv exposes the receive side for the component that owns this endpoint.
func (p *Pipe) Recv() <-chan Message { return p.recv }

// CloseNotify reports channel closure.
func (p *Pipe) CloseNotify() <-chan struct{} { return p.done }

// Close shuts the pipe down. Safe to call more than once.
func (p *Pipe) Close() error {
	p.closeOne.Do(func() { close(p.done) })
	return nil
}
