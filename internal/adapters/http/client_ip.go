package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIPResolver picks the address requests are attributed to. The peer
// address is used unless forwarded headers are trusted. When they are, the
// right-most X-Forwarded-For hop that is not a trusted proxy wins; with no
// proxy list only the immediate peer is treated as a proxy.
type clientIPResolver struct {
	trustForwarded bool
	proxies        []netip.Prefix
}

func newClientIPResolver(trustForwarded bool, trustedProxies []string) (clientIPResolver, error) {
	res := clientIPResolver{trustForwarded: trustForwarded}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parseProxyPrefix(raw)
		if err != nil {
			return clientIPResolver{}, err
		}
		res.proxies = append(res.proxies, prefix)
	}
	return res, nil
}

func parseProxyPrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (c clientIPResolver) clientIP(r *http.Request) string {
	peer := peerAddr(r)
	if !c.trustForwarded {
		return peer
	}
	if len(c.proxies) > 0 && !c.isTrustedProxy(peer) {
		return peer
	}
	hops := r.Header.Values("X-Forwarded-For")
	var chain []string
	for _, h := range hops {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				chain = append(chain, part)
			}
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(chain[i])
		if err != nil {
			return peer
		}
		if len(c.proxies) > 0 && c.isTrustedProxy(addr.Unmap().String()) {
			continue
		}
		return addr.Unmap().String()
	}
	return peer
}

func (c clientIPResolver) isTrustedProxy(raw string) bool {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
