// Package addr converts dotted-quad IPv4 strings to and from the 32-bit keys
// used by the blacklist bitmap. Keys are big-endian so numeric order matches
// address order.
package addr

import (
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid IPv4 address")

// Encode parses s as exactly four decimal octets and packs them big-endian.
func Encode(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, ErrInvalidAddress
	}
	var key uint32
	for _, p := range parts {
		// leading zeros are rejected, as net/netip does
		if p == "" || len(p) > 3 || (len(p) > 1 && p[0] == '0') {
			return 0, ErrInvalidAddress
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return 0, ErrInvalidAddress
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return 0, ErrInvalidAddress
		}
		key = key<<8 | uint32(n)
	}
	return key, nil
}

// Decode renders a key back to dotted-quad form.
func Decode(key uint32) string {
	var b strings.Builder
	b.Grow(15)
	b.WriteString(strconv.Itoa(int(key >> 24)))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(int(key >> 16 & 0xff)))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(int(key >> 8 & 0xff)))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(int(key & 0xff)))
	return b.String()
}
