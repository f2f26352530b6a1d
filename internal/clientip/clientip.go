// Package clientip works out which source a request belongs to.
package clientip

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"bot-admission-gateway/pkg/validator"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// MatchList is a set of addresses and CIDR ranges.
type MatchList struct {
	TrieV4 *ipaddr.IPv4AddressTrie
	TrieV6 *ipaddr.IPv6AddressTrie
	Count  int
}

func BuildMatchList(entries []string, logger *slog.Logger) MatchList {
	list := MatchList{
		TrieV4: &ipaddr.IPv4AddressTrie{},
		TrieV6: &ipaddr.IPv6AddressTrie{},
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		addr, err := ipaddr.NewIPAddressString(e).ToAddress()
		if err != nil || addr == nil {
			if logger != nil {
				logger.Warn("ignoring invalid trusted proxy", "entry", e)
			}
			continue
		}
		if addr.IsIPv4() {
			list.TrieV4.Add(addr.ToIPv4())
			list.Count++
		} else if addr.IsIPv6() {
			list.TrieV6.Add(addr.ToIPv6())
			list.Count++
		}
	}
	return list
}

func (l MatchList) Matches(ip *ipaddr.IPAddress) bool {
	if ip == nil || l.TrieV4 == nil || l.TrieV6 == nil {
		return false
	}
	return (ip.IsIPv4() && l.TrieV4.ElementContains(ip.ToIPv4())) ||
		(ip.IsIPv6() && l.TrieV6.ElementContains(ip.ToIPv6()))
}

// Canonical normalizes an address so equal addresses map to one source id.
// A port is stripped. Values that do not parse as an IP are returned
// trimmed and otherwise untouched.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	addr := parse(s)
	if addr == nil {
		return s
	}
	return addr.ToCanonicalString()
}

func parse(s string) *ipaddr.IPAddress {
	if s == "" {
		return nil
	}
	addr, err := ipaddr.NewIPAddressString(s).ToAddress()
	if err != nil {
		return nil
	}
	return addr
}

// Resolver derives the source id of an HTTP request.
type Resolver struct {
	mockHeader string
	trusted    MatchList
}

// NewResolver takes the simulator override header (empty disables it) and
// the proxies whose forwarding headers are believed.
func NewResolver(mockHeader string, trustedProxies []string, logger *slog.Logger) *Resolver {
	return &Resolver{
		mockHeader: mockHeader,
		trusted:    BuildMatchList(trustedProxies, logger),
	}
}

// SourceID returns the canonical client address, or "" if none is known.
// Header values that are not usable source ids are ignored in favour of
// the peer address.
func (r *Resolver) SourceID(req *http.Request) string {
	if r.mockHeader != "" {
		if id, ok := usable(req.Header.Get(r.mockHeader)); ok {
			return id
		}
	}

	peer := Canonical(req.RemoteAddr)
	if r.trusted.Count > 0 && r.trusted.Matches(parse(peer)) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if id, ok := usable(first); ok {
				return id
			}
		}
		if id, ok := usable(req.Header.Get("X-Real-IP")); ok {
			return id
		}
	}
	return peer
}

func usable(raw string) (string, bool) {
	id := Canonical(raw)
	if validator.SourceID(id) != nil {
		return "", false
	}
	return id, true
}
