package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const unknownField = "unknown"

// DeviceInfo is client-supplied context for a login or refresh. Every field is untrusted.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	UserAgent  string
	IPAddress  string
}

// Sanitized returns a copy with the IP normalized and the user agent truncated.
func (d DeviceInfo) Sanitized() DeviceInfo {
	out := DeviceInfo{
		DeviceID:   strings.TrimSpace(d.DeviceID),
		DeviceName: strings.TrimSpace(d.DeviceName),
		UserAgent:  TruncateUserAgent(strings.TrimSpace(d.UserAgent)),
	}
	if ip, ok := NormalizeIP(d.IPAddress); ok {
		out.IPAddress = ip
	} else {
		out.IPAddress = strings.TrimSpace(d.IPAddress)
	}
	return out
}

// fingerprintInput fixes the key order of the canonical JSON.
type fingerprintInput struct {
	DeviceID  string `json:"deviceId"`
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
}

// Fingerprint returns the SHA-256 hex of the canonical JSON {deviceId, userAgent, ipAddress},
// with "unknown" for blank fields. It tags a session; it is not an authentication factor.
func Fingerprint(d DeviceInfo) string {
	in := fingerprintInput{
		DeviceID:  orUnknown(d.DeviceID),
		UserAgent: orUnknown(d.UserAgent),
		IPAddress: orUnknown(d.IPAddress),
	}
	// Marshal of a struct of strings cannot fail.
	b, _ := json.Marshal(in)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownField
	}
	return s
}
