package utils

import (
	"net/mail"
	"strings"
)

// SenderAddress returns the bare, lowercased address of a From header value.
// Unparseable values are lowercased and returned as is.
func SenderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	if i := strings.LastIndexByte(from, '<'); i >= 0 {
		if j := strings.IndexByte(from[i:], '>'); j > 0 {
			return strings.ToLower(strings.TrimSpace(from[i+1 : i+j]))
		}
	}
	return strings.ToLower(from)
}

// SenderDomain returns the domain part of a sender. Values without an @ are returned whole.
func SenderDomain(from string) string {
	addr := SenderAddress(from)
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return addr
}
