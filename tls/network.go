// Package tls provides address and certificate helpers for serving the bridge
// to phones on the local network.
package tls

import (
	cryptotls "crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
)

// GetLANIPs returns all local IPv4 addresses (non-loopback), sorted.
func GetLANIPs() ([]string, error) {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ip := ipv4Of(addr); ip != nil {
				ips = append(ips, ip.String())
			}
		}
	}

	sort.Strings(ips)
	return ips, nil
}

func ipv4Of(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil || ip.To4() == nil || ip.IsLoopback() {
		return nil
	}
	return ip
}

// ListenURLs returns the WebSocket URLs listeners can connect to.
// A wildcard bind address expands to localhost plus every LAN address.
func ListenURLs(bind string, port int, secure bool) []string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}

	hosts := []string{bind}
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		hosts = []string{"localhost"}
		if lanIPs, err := GetLANIPs(); err == nil {
			hosts = append(hosts, lanIPs...)
		}
	}

	urls := make([]string, 0, len(hosts))
	for _, host := range hosts {
		urls = append(urls, scheme+"://"+net.JoinHostPort(host, strconv.Itoa(port))+"/ws")
	}
	return urls
}

// CheckKeyPair loads the certificate and key and verifies the leaf
// certificate is currently valid. It returns the leaf's expiry.
func CheckKeyPair(certFile, keyFile string, now time.Time) (time.Time, error) {
	pair, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return time.Time{}, fmt.Errorf("load key pair: %w", err)
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return leaf.NotAfter, fmt.Errorf("certificate not valid before %s", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return leaf.NotAfter, fmt.Errorf("certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return leaf.NotAfter, nil
}
