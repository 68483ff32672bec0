package bitrix

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrPrivateAddress is returned when the webhook host resolves to an
// address outside the public internet and private hosts are not allowed.
var ErrPrivateAddress = errors.New("bitrix: webhook host resolves to a private address")

// parseWebhookURL validates the inbound-webhook base URL of a portal, e.g.
// https://example.bitrix24.com/rest/1/abc123. Method names are appended to it.
func parseWebhookURL(raw string, allowPrivate bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("bitrix: invalid webhook url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "http":
	default:
		return nil, fmt.Errorf("bitrix: webhook url scheme %q not allowed, use http or https", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.New("bitrix: webhook url must have a hostname")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, errors.New("bitrix: webhook url must not carry a query or fragment")
	}

	if !allowPrivate {
		addrs, err := net.LookupHost(host)
		if err != nil {
			return nil, fmt.Errorf("bitrix: cannot resolve %q: %w", host, err)
		}
		for _, a := range addrs {
			ip, err := netip.ParseAddr(a)
			if err != nil {
				continue
			}
			if isPrivate(ip) {
				return nil, fmt.Errorf("%w: %s", ErrPrivateAddress, a)
			}
		}
	}

	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

func isPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
