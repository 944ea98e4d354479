package security

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// MaxUserAgentLength is the longest user agent kept on a session, in runes.
const MaxUserAgentLength = 512

// NormalizeIP accepts a bare IP or an address with a port ("192.0.2.4:1234",
// "[2001:db8::1]:443") and returns the canonical IP without zone. ok is false
// when raw does not contain an IP.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().WithZone("").String(), true
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.WithZone("").String(), true
	}
	if strings.HasPrefix(raw, "[") {
		if end := strings.LastIndex(raw, "]"); end > 0 {
			if addr, err := netip.ParseAddr(raw[1:end]); err == nil {
				return addr.WithZone("").String(), true
			}
		}
	}
	return raw, false
}

// TruncateUserAgent trims ua to MaxUserAgentLength runes without splitting a rune.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	var b strings.Builder
	b.Grow(len(ua))
	n := 0
	for _, r := range ua {
		if n == MaxUserAgentLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// ParseTrustedProxies parses a comma-separated list of IPs and CIDR prefixes. A bare IP
// becomes a single-address prefix. Blank entries are skipped.
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", item, err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// IsTrustedProxy reports whether ip falls inside one of the prefixes.
func IsTrustedProxy(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
