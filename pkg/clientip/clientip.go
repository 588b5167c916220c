// Package clientip resolves the address a request came from for rate
// limiting and logging.
package clientip

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RealClientIP returns the direct peer address of r, ignoring proxy
// headers.
func RealClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// Resolver honours X-Forwarded-For only when the direct peer is one of
// the trusted proxies. With no trusted proxies it behaves like
// RealClientIP.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver parses trusted proxy addresses given as CIDRs or bare IPs.
func NewResolver(trusted []string) (*Resolver, error) {
	res := &Resolver{}
	for _, s := range trusted {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
				s += "/32"
			} else {
				s += "/128"
			}
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("clientip: trusted proxy %q: %w", s, err)
		}
		res.trusted = append(res.trusted, n)
	}
	return res, nil
}

func (res *Resolver) isTrusted(ip net.IP) bool {
	for _, n := range res.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP walks X-Forwarded-For from the right, skipping trusted hops,
// and returns the first untrusted address.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := RealClientIP(r)
	if res == nil || len(res.trusted) == 0 {
		return peer
	}
	ip := net.ParseIP(peer)
	if ip == nil || !res.isTrusted(ip) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		hopIP := net.ParseIP(hop)
		if hopIP == nil {
			break
		}
		if !res.isTrusted(hopIP) {
			return hop
		}
		peer = hop
	}
	return peer
}
