package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// guessIpAddress completes a peer address given as its last octets,
// taking the leading octets from base, the address this node binds to.
// With base 192.168.0.1, "42" is 192.168.0.42 and "15.42" is
// 192.168.15.42; an empty partial returns base itself.
func guessIpAddress(base net.IP, partial string) (net.IP, error) {
	ip := append(net.IP(nil), base...)
	if partial == "" {
		return ip, nil
	}
	octets := strings.Split(partial, ".")
	if len(octets) > 4 || len(octets) > len(ip) {
		return net.IP{}, fmt.Errorf("too many octets in %q", partial)
	}
	offset := len(ip) - len(octets)
	for i, o := range octets {
		v, err := strconv.ParseUint(o, 10, 8)
		if err != nil {
			return net.IP{}, fmt.Errorf("invalid octet %q in %q", o, partial)
		}
		ip[offset+i] = byte(v)
	}
	return ip, nil
}

// subnetOfListener finds the network of the interface the node listens
// on. It is the range in which peers can be named by partial addresses.
func subnetOfListener(l *net.TCPListener) (net.IPNet, error) {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return net.IPNet{}, fmt.Errorf("listener is not TCP")
	}
	if addr.IP == nil || addr.IP.IsUnspecified() {
		return net.IPNet{}, fmt.Errorf("listener has unspecified IP %v", addr.IP)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPNet{}, err
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if subnet, ok := interfaceNet(a); ok && subnet.Contains(addr.IP) {
				return subnet, nil
			}
		}
	}
	return net.IPNet{}, fmt.Errorf("no interface found for ip %v", addr.IP)
}

func interfaceNet(a net.Addr) (net.IPNet, bool) {
	switch v := a.(type) {
	case *net.IPNet:
		return *v, true
	case *net.IPAddr:
		return net.IPNet{IP: v.IP, Mask: v.IP.DefaultMask()}, true
	}
	return net.IPNet{}, false
}

// splitHostPort splits a peer address. A peer given without port listens
// on the port equal to its id, passed as defaultPort.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	if host, port, err := net.SplitHostPort(addr); err == nil {
		return host, port, nil
	}
	return net.SplitHostPort(net.JoinHostPort(addr, strconv.Itoa(defaultPort)))
}

func isPartialIP(host string) bool {
	for _, r := range host {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// parsePeers reads comma separated id=address overrides. The address may
// omit the port, which then defaults to the id, and may be a partial IPv4
// address completed from base: with base 192.168.0.1, "5002=42" means
// 192.168.0.42:5002.
func parsePeers(s string, base net.IP) (map[int]string, error) {
	peers := make(map[int]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idS, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid peer %q, expected id=address", entry)
		}
		id, err := strconv.Atoi(idS)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id %q", idS)
		}
		host, port, err := splitHostPort(addr, id)
		if err != nil {
			return nil, fmt.Errorf("invalid address for peer %d: %w", id, err)
		}
		if isPartialIP(host) {
			ip, err := guessIpAddress(base.To4(), host)
			if err != nil {
				return nil, fmt.Errorf("could not guess address for peer %d: %w", id, err)
			}
			host = ip.String()
		}
		peers[id] = net.JoinHostPort(host, port)
	}
	return peers, nil
}
