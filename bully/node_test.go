package bully

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/krantius/bullycast/shared/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	settle = 5 * time.Second
	tick   = 10 * time.Millisecond
)

func testConfig(self Address) Config {
	return Config{
		Self:              self,
		HeartbeatInterval: 40 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
		HeartbeatJitter:   60 * time.Millisecond,
		HighestTimeout:    90 * time.Millisecond,
		HighestBackoff:    40 * time.Millisecond,
		ResponderPoll:     10 * time.Millisecond,
	}
}

type testNode struct {
	*Node
	reg    *metrics.Registry
	cancel context.CancelFunc
	done   chan struct{}
}

type cluster struct {
	t     *testing.T
	net   *MemoryNetwork
	nodes map[Address]*testNode
}

func newCluster(t *testing.T) *cluster {
	c := &cluster{t: t, net: NewMemoryNetwork(), nodes: map[Address]*testNode{}}
	t.Cleanup(c.stopAll)
	return c
}

// start attaches and runs a node. prep runs before the node starts.
func (c *cluster) start(addr Address, prep func(*Node)) *testNode {
	group, unicast := c.net.Attach(addr)
	reg := metrics.New()

	n, err := NewNode(testConfig(addr), group, unicast, reg)
	require.NoError(c.t, err)
	if prep != nil {
		prep(n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNode{Node: n, reg: reg, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(tn.done)
		assert.NoError(c.t, n.Run(ctx))
	}()

	c.nodes[addr] = tn
	return tn
}

// kill stops a node as if it crashed: it leaves the network first.
func (c *cluster) kill(addr Address) {
	tn := c.nodes[addr]
	c.net.Detach(addr)
	tn.cancel()
	<-tn.done
	delete(c.nodes, addr)
}

func (c *cluster) stopAll() {
	for addr := range c.nodes {
		c.kill(addr)
	}
}

// converged reports whether every live node agrees on want as leader and
// want alone leads.
func (c *cluster) converged(want Address) bool {
	for addr, tn := range c.nodes {
		st := tn.Status()
		if st.Leader == nil || *st.Leader != want {
			return false
		}
		if tn.IsLeader() != (addr == want) {
			return false
		}
	}
	return true
}

func (c *cluster) waitLeader(want Address) {
	c.t.Helper()
	require.Eventually(c.t, func() bool { return c.converged(want) }, settle, tick,
		"cluster did not converge on %s", want)
}

// nextFrame returns the first tapped frame of type typ.
func nextFrame(t *testing.T, tap <-chan Frame, typ MessageType) Frame {
	t.Helper()
	timeout := time.After(settle)
	for {
		select {
		case f := <-tap:
			if f.Env.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame seen", typ)
			return Frame{}
		}
	}
}

func TestHighestAddressWins(t *testing.T) {
	c := newCluster(t)
	for _, a := range []Address{addr1, addr2, addr3} {
		c.start(a, nil)
	}

	c.waitLeader(addr3)

	leader := c.nodes[addr3]
	assert.Equal(t, Leader, leader.Status().State)
	assert.Equal(t, Follower, c.nodes[addr1].Status().State)

	require.Eventually(t, func() bool {
		return len(c.nodes[addr1].Status().Members) == 3
	}, settle, tick, "membership never reached every node")
	assert.Equal(t, []Address{addr1, addr2, addr3}, c.nodes[addr1].Status().Members)

	assert.Equal(t, 1.0, testutil.ToFloat64(leader.reg.IsLeader))
	assert.GreaterOrEqual(t, testutil.ToFloat64(leader.reg.ElectionsTotal.WithLabelValues("won")), 1.0)
}

func TestFailoverToNextHighest(t *testing.T) {
	c := newCluster(t)
	for _, a := range []Address{addr1, addr2, addr3} {
		c.start(a, nil)
	}
	c.waitLeader(addr3)

	c.kill(addr3)

	c.waitLeader(addr2)
	assert.Equal(t, Leader, c.nodes[addr2].Status().State)

	// the dead node falls out once the new leader has a full interval of acks
	require.Eventually(t, func() bool {
		m := c.nodes[addr1].Status().Members
		return len(m) == 2 && m[0] == addr1 && m[1] == addr2
	}, settle, tick)
}

func TestRelayAssignsNextSequence(t *testing.T) {
	c := newCluster(t)
	tap := c.net.Tap()

	seed := func(n *Node) { n.seq.Observe(5) }
	requester := c.start(addr1, seed)
	c.start(addr2, seed)
	c.waitLeader(addr2)

	require.NoError(t, requester.Send("hello"))

	f := nextFrame(t, tap, Message)
	assert.Equal(t, addr2, f.From)

	var m MessageData
	require.NoError(t, f.Env.Payload(&m))
	assert.Equal(t, MessageData{ID: 6, Sender: addr1, Payload: "hello"}, m)

	select {
	case got := <-requester.Messages():
		assert.Equal(t, m, got)
	case <-time.After(settle):
		t.Fatal("requester never delivered the message")
	}

	require.Eventually(t, func() bool {
		return requester.Status().SequenceID == 6
	}, settle, tick)
}

func TestSequenceSurvivesFailover(t *testing.T) {
	c := newCluster(t)
	tap := c.net.Tap()
	for _, a := range []Address{addr1, addr2, addr3} {
		c.start(a, nil)
	}
	c.waitLeader(addr3)

	require.NoError(t, c.nodes[addr1].Send("first"))
	f := nextFrame(t, tap, Message)
	var first MessageData
	require.NoError(t, f.Env.Payload(&first))

	require.Eventually(t, func() bool {
		return c.nodes[addr2].Status().SequenceID == first.ID
	}, settle, tick)

	c.kill(addr3)
	c.waitLeader(addr2)

	require.NoError(t, c.nodes[addr1].Send("second"))
	f = nextFrame(t, tap, Message)
	var second MessageData
	require.NoError(t, f.Env.Payload(&second))

	assert.Equal(t, addr2, f.From)
	assert.Greater(t, second.ID, first.ID)
}

func TestSendWithoutLeader(t *testing.T) {
	net := NewMemoryNetwork()
	group, unicast := net.Attach(addr1)

	n, err := NewNode(testConfig(addr1), group, unicast, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, n.Send("hello"), ErrNoLeader)
	assert.Nil(t, n.Status().Leader)
}

func TestWatchdogFiresWithinWindow(t *testing.T) {
	c := newCluster(t)
	tap := c.net.Tap()
	cfg := testConfig(addr1)

	start := time.Now()
	c.start(addr1, nil)

	f := nextFrame(t, tap, Election)
	elapsed := f.At.Sub(start)

	assert.GreaterOrEqual(t, elapsed, cfg.HeartbeatTimeout)
	assert.Less(t, elapsed, cfg.HeartbeatTimeout+cfg.HeartbeatJitter+50*time.Millisecond)

	var data ElectionData
	require.NoError(t, f.Env.Payload(&data))
	assert.Equal(t, "no heartbeat", data.Reason)

	c.waitLeader(addr1)
}

func TestHeartbeatsSuppressElection(t *testing.T) {
	c := newCluster(t)
	c.start(addr1, nil)
	c.start(addr2, nil)
	c.waitLeader(addr2)

	follower := c.nodes[addr1]
	before := testutil.ToFloat64(follower.reg.ElectionsTotal.WithLabelValues("lost"))

	time.Sleep(4 * testConfig(addr1).HeartbeatTimeout)

	assert.Equal(t, before, testutil.ToFloat64(follower.reg.ElectionsTotal.WithLabelValues("lost")))
	assert.True(t, c.converged(addr2))
	assert.Greater(t, testutil.ToFloat64(follower.reg.HeartbeatsReceived), 0.0)
}

func TestLeaderYieldsToHigherHeartbeat(t *testing.T) {
	c := newCluster(t)
	low := c.start(addr1, nil)
	c.waitLeader(addr1)

	// a higher node that missed the election starts beating on its own
	hb, err := NewEnvelope(Heartbeat, HeartbeatData{Members: []Address{addr3}, SequenceID: 9})
	require.NoError(t, err)
	low.group.(*memoryChannel).inject(addr3, mustEncode(t, hb))

	require.Eventually(t, func() bool {
		st := low.Status()
		return !low.IsLeader() && st.Leader != nil && *st.Leader == addr3
	}, settle, tick)
	assert.Equal(t, uint64(9), low.Status().SequenceID)
}

func TestLeaderIgnoresLowerLeader(t *testing.T) {
	c := newCluster(t)
	high := c.start(addr3, nil)
	c.waitLeader(addr3)

	high.group.(*memoryChannel).inject(addr1, mustEncode(t, mustEnvelope(LeaderAnnounce, nil)))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, high.IsLeader())
	assert.Equal(t, addr3, *high.Status().Leader)
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	c := newCluster(t)
	n := c.start(addr1, nil)

	n.group.(*memoryChannel).inject(addr2, []byte(`{"type":"HEARTBEAT","data":`))
	n.group.(*memoryChannel).inject(addr2, []byte(`{"type":"HEARTBEAT","data":"oops"}`))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(n.reg.Dropped.WithLabelValues("decode")) == 2
	}, settle, tick)

	c.waitLeader(addr1)
}

func TestNewNodeValidates(t *testing.T) {
	net := NewMemoryNetwork()
	group, unicast := net.Attach(addr1)

	cfg := testConfig(addr1)
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval / 2

	_, err := NewNode(cfg, group, unicast, nil)
	assert.ErrorIs(t, err, ErrTimeoutBelowInterval)
}

func mustEncode(t *testing.T, env Envelope) []byte {
	t.Helper()
	b, err := Encode(env)
	require.NoError(t, err)
	return b
}

func TestLargeClusterConverges(t *testing.T) {
	sizes := []int{4, 5}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d nodes", size), func(t *testing.T) {
			c := newCluster(t)

			var top Address
			for i := 1; i <= size; i++ {
				top = Address{10, 0, 0, byte(i)}
				c.start(top, nil)
			}

			c.waitLeader(top)
			for addr, tn := range c.nodes {
				if addr != top {
					assert.Equal(t, Follower, tn.Status().State)
				}
			}
		})
	}
}

func TestLeaderDoesNotAckLowerHeartbeat(t *testing.T) {
	c := newCluster(t)
	high := c.start(addr3, nil)
	c.waitLeader(addr3)

	// the lower peer's unicast endpoint, without a node behind it
	_, lowUnicast := c.net.Attach(addr1)

	hb, err := NewEnvelope(Heartbeat, HeartbeatData{Members: []Address{addr1}, SequenceID: 1})
	require.NoError(t, err)
	high.group.(*memoryChannel).inject(addr1, mustEncode(t, hb))

	_, _, err = lowUnicast.Receive(100 * time.Millisecond)
	assert.True(t, IsTimeout(err), "leader acked a lower leader: %v", err)
	assert.True(t, high.IsLeader())
}

func TestElectionFollowsLastHeartbeat(t *testing.T) {
	c := newCluster(t)
	cfg := testConfig(addr1)

	c.start(addr1, nil)
	c.start(addr2, nil)
	c.waitLeader(addr2)

	tap := c.net.Tap()
	last := nextFrame(t, tap, Heartbeat).At

	c.kill(addr2)

	timeout := time.After(settle)
	for {
		select {
		case f := <-tap:
			switch {
			case f.Env.Type == Heartbeat && f.From == addr2:
				last = f.At
				continue
			case f.Env.Type != Election:
				continue
			}

			assert.Equal(t, addr1, f.From)

			elapsed := f.At.Sub(last)
			assert.GreaterOrEqual(t, elapsed, cfg.HeartbeatTimeout)
			assert.Less(t, elapsed, cfg.HeartbeatTimeout+cfg.HeartbeatJitter+50*time.Millisecond)

			c.waitLeader(addr1)
			return
		case <-timeout:
			t.Fatal("follower never called an election")
		}
	}
}
