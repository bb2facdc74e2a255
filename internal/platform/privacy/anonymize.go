// Package privacy reduces learner PII to values safe for logs and traces.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// HashUsername returns a short SHA-256 prefix of a username so traces can be
// correlated without carrying the username itself.
func HashUsername(username string) string {
	if username == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(username))
	return hex.EncodeToString(hash[:8])
}

// AnonymizeIP truncates an address to its network: IPv4 keeps the /24,
// IPv6 the /48. It returns "unknown" for an empty address and "invalid" for
// one that does not parse.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
