package bully

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

const (
	DefaultGroup       = "224.0.0.1"
	DefaultGroupPort   = 20000
	DefaultUnicastPort = 10000

	maxDatagramSize = 8192
	multicastTTL    = 1
)

// UDPConfig locates the broadcast group and the unicast endpoint.
type UDPConfig struct {
	Group       string
	GroupPort   int
	UnicastPort int
	// Interface used to join the group. nil lets the kernel choose.
	Interface *net.Interface
}

func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		Group:       DefaultGroup,
		GroupPort:   DefaultGroupPort,
		UnicastPort: DefaultUnicastPort,
	}
}

// UDPChannel is a Channel over a UDP socket. Group channels have joined the
// multicast group; unicast channels only listen on the unicast port.
type UDPChannel struct {
	conn  *ipv4.PacketConn
	raw   net.PacketConn
	group *net.UDPAddr
	port  int
	buf   []byte
}

// ListenGroup binds the group port and joins the multicast group.
func ListenGroup(cfg UDPConfig) (*UDPChannel, error) {
	group := net.ParseIP(cfg.Group).To4()
	if group == nil || !group.IsMulticast() {
		return nil, errors.Errorf("group %q is not an IPv4 multicast address", cfg.Group)
	}

	c, err := listen(cfg.GroupPort, cfg)
	if err != nil {
		return nil, err
	}

	gaddr := &net.UDPAddr{IP: group}
	if err := c.conn.JoinGroup(cfg.Interface, gaddr); err != nil {
		c.raw.Close()
		return nil, errors.Wrapf(err, "join group %s", cfg.Group)
	}

	log.Debugf("Joined group %s:%d", cfg.Group, cfg.GroupPort)

	return c, nil
}

// ListenUnicast binds the well-known unicast port.
func ListenUnicast(cfg UDPConfig) (*UDPChannel, error) {
	return listen(cfg.UnicastPort, cfg)
}

func listen(port int, cfg UDPConfig) (*UDPChannel, error) {
	raw, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "bind udp port %d", port)
	}

	conn := ipv4.NewPacketConn(raw)

	if cfg.Interface != nil {
		if err := conn.SetMulticastInterface(cfg.Interface); err != nil {
			raw.Close()
			return nil, errors.Wrapf(err, "set multicast interface %s", cfg.Interface.Name)
		}
	}
	if err := conn.SetMulticastTTL(multicastTTL); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "set multicast ttl")
	}
	if err := conn.SetMulticastLoopback(true); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "enable multicast loopback")
	}

	return &UDPChannel{
		conn:  conn,
		raw:   raw,
		group: &net.UDPAddr{IP: net.ParseIP(cfg.Group), Port: cfg.GroupPort},
		port:  cfg.UnicastPort,
		buf:   make([]byte, maxDatagramSize),
	}, nil
}

func (c *UDPChannel) Broadcast(env Envelope) error {
	return c.send(env, c.group)
}

func (c *UDPChannel) Unicast(env Envelope, to Address) error {
	return c.send(env, &net.UDPAddr{IP: to.IP(), Port: c.port})
}

func (c *UDPChannel) send(env Envelope, dst *net.UDPAddr) error {
	b, err := Encode(env)
	if err != nil {
		return err
	}

	log.Tracef("Send to %s: %s", dst, b)

	if _, err := c.conn.WriteTo(b, nil, dst); err != nil {
		return errors.Wrapf(err, "send %s to %s", env.Type, dst)
	}
	return nil
}

// Receive is not safe for concurrent use; each channel has one reader.
func (c *UDPChannel) Receive(timeout time.Duration) (Envelope, Address, error) {
	if timeout <= 0 {
		return Envelope{}, Address{}, ErrTimeout
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Envelope{}, Address{}, errors.Wrap(err, "set read deadline")
	}

	n, _, src, err := c.conn.ReadFrom(c.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Envelope{}, Address{}, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return Envelope{}, Address{}, ErrClosed
		}
		return Envelope{}, Address{}, errors.Wrap(err, "read datagram")
	}

	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return Envelope{}, Address{}, &DecodeError{Err: errors.Errorf("unexpected source %v", src)}
	}

	from, err := AddressFromIP(udp.IP)
	if err != nil {
		return Envelope{}, Address{}, &DecodeError{Err: err}
	}

	env, err := Decode(c.buf[:n])
	if err != nil {
		return Envelope{}, from, &DecodeError{From: from, Err: err}
	}

	log.Tracef("Got %s from %s", env.Type, from)

	return env, from, nil
}

func (c *UDPChannel) Close() error {
	return c.raw.Close()
}
