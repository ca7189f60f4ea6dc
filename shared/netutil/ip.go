package netutil

import (
	"net"

	"github.com/pkg/errors"
)

// ErrNoAddress is returned when no interface carries a usable IPv4 address.
var ErrNoAddress = errors.New("no global unicast IPv4 address found")

// OwnIPv4 returns the first global unicast IPv4 address bound to a local
// interface. override, when set, wins and must parse as IPv4.
func OwnIPv4(override string) (net.IP, error) {
	if override != "" {
		ip := net.ParseIP(override).To4()
		if ip == nil {
			return nil, errors.Errorf("address override %q is not IPv4", override)
		}
		return ip, nil
	}

	for _, ip := range IPs() {
		if usable(ip) {
			return ip.To4(), nil
		}
	}

	return nil, ErrNoAddress
}

func usable(ip net.IP) bool {
	if ip.To4() == nil {
		return false
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return false
	}
	if ip.IsMulticast() {
		return false
	}
	return ip.IsGlobalUnicast()
}

// IPs lists addresses of every interface that is up.
func IPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := ExtractIP(addr); len(ip) > 0 {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

// ExtractIP pulls the IP out of a net.Addr.
func ExtractIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPAddr:
		return v.IP
	case *net.IPNet:
		return v.IP
	case *net.TCPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		return nil
	}
}

// MulticastInterface picks the interface owning ip, or nil to let the kernel
// choose.
func MulticastInterface(ip net.IP) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ExtractIP(addr).Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}
