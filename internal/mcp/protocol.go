package mcp

import (
	"fmt"
	"slices"
)

const (
	// DefaultProtocolVersion is advertised in initialize responses when the
	// baseline sets no protocol_version and the client requests a version
	// outside SupportedProtocolVersions.
	DefaultProtocolVersion = "2025-11-25"
	ServerName              = "mcpfault"
	ServerVersion           = "1.0.0"
)

var SupportedProtocolVersions = []string{
	"2025-11-25",
	"2025-03-26",
	"2024-11-05",
}

// NegotiationPolicy controls how the server reacts to a client-requested
// protocol version during initialize.
type NegotiationPolicy string

const (
	// NegotiationEcho returns whatever the client requested, supported or not.
	NegotiationEcho NegotiationPolicy = "echo"
	// NegotiationSupported downgrades to DefaultProtocolVersion if the
	// client's requested version isn't in SupportedProtocolVersions.
	NegotiationSupported NegotiationPolicy = "supported"
	// NegotiationFixed always returns DefaultProtocolVersion regardless of
	// what the client requested.
	NegotiationFixed NegotiationPolicy = "fixed"
)

func IsSupported(version string) bool {
	return slices.Contains(SupportedProtocolVersions, version)
}

// Negotiate decides which protocol version the server reports in its
// initialize result for a given client-requested version and policy.
func Negotiate(requested string, policy NegotiationPolicy) string {
	switch policy {
	case NegotiationEcho:
		return requested
	case NegotiationFixed:
		return DefaultProtocolVersion
	case NegotiationSupported:
		if IsSupported(requested) {
			return requested
		}
		return DefaultProtocolVersion
	default:
		return Negotiate(requested, NegotiationSupported)
	}
}

func ParseNegotiationPolicy(s string) NegotiationPolicy {
	switch s {
	case "echo":
		return NegotiationEcho
	case "fixed":
		return NegotiationFixed
	case "supported":
		return NegotiationSupported
	default:
		return NegotiationSupported
	}
}

// UnsupportedVersionError reports that a client requested a protocol version
// the server has no phase willing to negotiate down from.
type UnsupportedVersionError struct {
	Requested string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version requested: %q (supported: %v)",
		e.Requested, SupportedProtocolVersions)
}
