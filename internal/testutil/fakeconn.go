// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"sync"

	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// FakeConn is an in-memory interfaces.Connection that records every frame sent to it
type FakeConn struct {
	mu            sync.Mutex
	identity      types.Identity
	authenticated bool
	closed        bool
	sent          []interface{}
	sendErr       error
}

// NewFakeConn returns an authenticated fake connection for the given identity
func NewFakeConn(userID, role string) *FakeConn {
	c := &FakeConn{}
	_ = c.SetIdentity(types.Identity{ID: userID, Role: role})
	return c
}

func (c *FakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return interfaces.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) SetIdentity(identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.authenticated = true
	return nil
}

func (c *FakeConn) Identity() types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *FakeConn) GetUserID() string { return c.Identity().ID }

func (c *FakeConn) GetRole() string { return c.Identity().Role }

func (c *FakeConn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// FailSends makes every following Send return err (nil restores normal behavior)
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// IsClosed reports whether Close was called
func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns every outbound frame recorded so far
func (c *FakeConn) Frames() []*types.OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]*types.OutboundFrame, 0, len(c.sent))
	for _, v := range c.sent {
		if f, ok := v.(*types.OutboundFrame); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// FramesOfType filters recorded frames by their type field
func (c *FakeConn) FramesOfType(frameType string) []*types.OutboundFrame {
	var out []*types.OutboundFrame
	for _, f := range c.Frames() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// LastFrame returns the most recent outbound frame, or nil
func (c *FakeConn) LastFrame() *types.OutboundFrame {
	frames := c.Frames()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// AckFor returns the ack frame answering requestID, or nil
func (c *FakeConn) AckFor(requestID string) *types.OutboundFrame {
	for _, f := range c.Frames() {
		if f.Type == types.FrameAck && f.RequestID == requestID {
			return f
		}
	}
	return nil
}

// Reset forgets recorded frames
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
