package main

import (
	"net"
	"testing"
)

func TestGuessIpAddress24(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{192, 168, 0, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
}

func TestGuessIpAddress16(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "15.42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{192, 168, 15, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
}

func TestGuessIpAddressFull(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "10.100.15.42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{10, 100, 15, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
	if _, err := guessIpAddress(addr, "1.2.3.4.5"); err == nil {
		t.Fatal("expected error for five octets")
	}
}

func TestSubnetOfListener(t *testing.T) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: 0,
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	ipnet, err := subnetOfListener(l)
	if err != nil {
		t.Fatalf("subnetOfListener error: %v", err)
	}
	if !ipnet.Contains(net.ParseIP("127.0.0.1")) {
		t.Fatalf("expected subnet %s to contain 127.0.0.1", ipnet.String())
	}
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("10.0.0.2", 5002)
	if err != nil {
		t.Fatal(err)
	}
	if host != "10.0.0.2" || port != "5002" {
		t.Fatalf("expected 10.0.0.2 5002, got %s %s", host, port)
	}
	host, port, err = splitHostPort("example.org:80", 5002)
	if err != nil {
		t.Fatal(err)
	}
	if host != "example.org" || port != "80" {
		t.Fatalf("expected example.org 80, got %s %s", host, port)
	}
}

func TestParsePeers(t *testing.T) {
	base := net.IP{192, 168, 0, 1}
	peers, err := parsePeers("5002=42, 5003=node3.lan:9000, 5004=10.0.0.4", base)
	if err != nil {
		t.Fatal(err)
	}
	expected := map[int]string{
		5002: "192.168.0.42:5002",
		5003: "node3.lan:9000",
		5004: "10.0.0.4:5004",
	}
	for id, addr := range expected {
		if peers[id] != addr {
			t.Fatalf("peer %d: expected %s, got %s", id, addr, peers[id])
		}
	}
	if _, err := parsePeers("5002", base); err == nil {
		t.Fatal("expected error without address")
	}
}
