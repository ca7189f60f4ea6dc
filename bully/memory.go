package bully

import (
	"sync"
	"time"
)

const memoryQueueSize = 1024

// MemoryNetwork is an in-process broadcast domain for running several nodes
// in one process. Delivery is loss free and ordered per receiver unless a
// peer is detached.
type MemoryNetwork struct {
	mu    sync.RWMutex
	group map[Address]*memoryChannel
	uni   map[Address]*memoryChannel
	taps  []chan Frame
}

// Frame is an envelope observed on the group.
type Frame struct {
	From Address
	Env  Envelope
	At   time.Time
}

type packet struct {
	from Address
	data []byte
}

type memoryChannel struct {
	net    *MemoryNetwork
	self   Address
	queue  chan packet
	done   chan struct{}
	closed sync.Once
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		group: make(map[Address]*memoryChannel),
		uni:   make(map[Address]*memoryChannel),
	}
}

// Attach creates the group and unicast channels for addr.
func (m *MemoryNetwork) Attach(addr Address) (group Channel, unicast Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.newChannel(addr)
	u := m.newChannel(addr)
	m.group[addr] = g
	m.uni[addr] = u

	return g, u
}

// Detach drops addr off the network. Its channels stop receiving and its
// sends go nowhere, as if the node had died.
func (m *MemoryNetwork) Detach(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.group, addr)
	delete(m.uni, addr)
}

// Tap returns a stream of every envelope broadcast from now on.
func (m *MemoryNetwork) Tap() <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Frame, memoryQueueSize)
	m.taps = append(m.taps, ch)
	return ch
}

func (m *MemoryNetwork) newChannel(addr Address) *memoryChannel {
	return &memoryChannel{
		net:   m,
		self:  addr,
		queue: make(chan packet, memoryQueueSize),
		done:  make(chan struct{}),
	}
}

func (m *MemoryNetwork) attached(addr Address) bool {
	_, ok := m.group[addr]
	return ok
}

func (c *memoryChannel) Broadcast(env Envelope) error {
	b, err := Encode(env)
	if err != nil {
		return err
	}

	c.net.mu.RLock()
	defer c.net.mu.RUnlock()

	if !c.net.attached(c.self) {
		return nil
	}

	// stamped before delivery so no receiver sees the frame earlier
	sent := time.Now()
	for _, peer := range c.net.group {
		peer.deliver(packet{from: c.self, data: b})
	}
	for _, tap := range c.net.taps {
		select {
		case tap <- Frame{From: c.self, Env: env, At: sent}:
		default:
		}
	}
	return nil
}

func (c *memoryChannel) Unicast(env Envelope, to Address) error {
	b, err := Encode(env)
	if err != nil {
		return err
	}

	c.net.mu.RLock()
	defer c.net.mu.RUnlock()

	if !c.net.attached(c.self) {
		return nil
	}

	if peer, ok := c.net.uni[to]; ok {
		peer.deliver(packet{from: c.self, data: b})
	}
	return nil
}

// deliver drops on a full queue like a congested socket buffer would.
func (c *memoryChannel) deliver(p packet) {
	select {
	case c.queue <- p:
	default:
	}
}

func (c *memoryChannel) Receive(timeout time.Duration) (Envelope, Address, error) {
	if timeout <= 0 {
		return Envelope{}, Address{}, ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-c.queue:
		env, err := Decode(p.data)
		if err != nil {
			return Envelope{}, p.from, &DecodeError{From: p.from, Err: err}
		}
		return env, p.from, nil
	case <-timer.C:
		return Envelope{}, Address{}, ErrTimeout
	case <-c.done:
		return Envelope{}, Address{}, ErrClosed
	}
}

// inject queues raw bytes as if sent by from.
func (c *memoryChannel) inject(from Address, data []byte) {
	c.deliver(packet{from: from, data: data})
}

func (c *memoryChannel) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}
