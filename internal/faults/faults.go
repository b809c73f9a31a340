// Package faults classifies backend failures for telemetry and display.
package faults

import (
	"strings"
)

// Category represents the classification of a backend error
type Category int32

const (
	// Network indicates connection, timeout or DNS failures
	Network Category = iota
	// Codec indicates decode, caps negotiation or format failures
	Codec
	// Auth indicates authentication/authorization failures
	Auth
	// Unknown indicates unclassified errors
	Unknown
)

// String returns a human-readable string representation of the category
func (c Category) String() string {
	switch c {
	case Network:
		return "network"
	case Codec:
		return "codec"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized",
		"401",
		"403",
		"forbidden",
		"authentication",
		"credentials",
		"password",
		"username",
	}

	codecKeywords = []string{
		"codec",
		"decode",
		"encode",
		"format",
		"negotiation",
		"caps",
		"h264",
		"h265",
		"mjpeg",
		"jpeg",
		"not negotiated",
		"no decoder",
		"missing plugin",
	}

	networkKeywords = []string{
		"connection",
		"timeout",
		"unreachable",
		"network",
		"dns",
		"resolve",
		"socket",
		"tcp",
		"udp",
		"rtsp",
		"not found",
		"could not connect",
		"failed to connect",
		"no such host",
		"refused",
		"end of stream",
	}
)

// Classify categorizes an error from its message and optional debug text.
// Auth is checked first (most specific), then codec, then network.
func Classify(msg, debug string) Category {
	combined := strings.ToLower(msg + " " + debug)
	if strings.TrimSpace(combined) == "" {
		return Unknown
	}

	switch {
	case containsAny(combined, authKeywords):
		return Auth
	case containsAny(combined, codecKeywords):
		return Codec
	case containsAny(combined, networkKeywords):
		return Network
	default:
		return Unknown
	}
}

// ClassifyError is Classify(err.Error(), "").
func ClassifyError(err error) Category {
	if err == nil {
		return Unknown
	}
	return Classify(err.Error(), "")
}

// ClassifyHTTPStatus maps an HTTP status code to a category.
func ClassifyHTTPStatus(code int) Category {
	switch {
	case code == 401 || code == 403:
		return Auth
	case code == 415:
		return Codec
	case code >= 400:
		return Network
	default:
		return Unknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
