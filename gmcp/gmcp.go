// Package gmcp implements the Generic MUD Communication Protocol: JSON
// messages carried in telnet option 201 subnegotiations as
// "<package-name> <json-value>".
package gmcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/telnet"
)

// Option is the telnet option carrying GMCP subnegotiations.
const Option = telnet.OptGMCP

// Core protocol package names used during the handshake.
const (
	helloPackage          = "Core.Hello"
	supportsAddPackage    = "Core.Supports.Add"
	supportsRemovePackage = "Core.Supports.Remove"
)

// Message is a decoded GMCP payload: the dotted package name and the raw
// JSON value that followed it.
type Message struct {
	Package string
	JSON    string
}

// Decode parses a subnegotiation payload. The payload must be valid UTF-8
// and the value following the package name must be valid JSON; violations
// are per-message errors and the payload is dropped.
func Decode(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return Message{}, &mud.GmcpError{Reason: "payload is not valid UTF-8"}
	}

	pkg, value, found := bytes.Cut(payload, []byte{' '})
	if len(pkg) == 0 {
		return Message{}, &mud.GmcpError{Reason: "payload has no package name"}
	}
	if !found || len(bytes.TrimSpace(value)) == 0 {
		// A bare package name is a valid no-data message.
		return Message{Package: string(pkg)}, nil
	}
	if !json.Valid(value) {
		return Message{}, &mud.GmcpError{
			Reason: fmt.Sprintf("package %q carries invalid JSON", pkg),
		}
	}
	return Message{Package: string(pkg), JSON: string(value)}, nil
}

// Encode renders a package name and value as a subnegotiation payload.
func Encode(pkg string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, &mud.GmcpError{Reason: fmt.Sprintf("encoding %q: %v", pkg, err)}
	}
	return EncodeRaw(pkg, string(data)), nil
}

// EncodeRaw renders a package name and pre-encoded JSON as a payload.
func EncodeRaw(pkg, rawJSON string) []byte {
	if rawJSON == "" {
		return []byte(pkg)
	}
	return []byte(pkg + " " + rawJSON)
}

// Hello builds the Core.Hello payload sent immediately after the local
// GMCP enable transition.
func Hello(client, version string) []byte {
	payload, _ := Encode(helloPackage, map[string]string{
		"client":  client,
		"version": version,
	})
	return payload
}

// State tracks per-session GMCP readiness and the packages registered with
// the server. Registrations made before the option is negotiated are queued
// and flushed on the enable transition.
type State struct {
	ready  bool
	queued []string
}

// NewState creates a GMCP state that is not yet ready.
func NewState() *State {
	return &State{}
}

// Ready reports whether GMCP has been negotiated.
func (s *State) Ready() bool {
	return s.ready
}

// Register adds a package registration. When GMCP is already negotiated the
// Core.Supports.Add payload to transmit is returned; otherwise the request
// is queued for the enable transition.
func (s *State) Register(pkg string) []byte {
	if !s.ready {
		s.queued = append(s.queued, pkg)
		return nil
	}
	payload, _ := Encode(supportsAddPackage, []string{pkg})
	return payload
}

// Unregister removes a package registration, returning the
// Core.Supports.Remove payload when GMCP is negotiated.
func (s *State) Unregister(pkg string) []byte {
	for i, queued := range s.queued {
		if queued == pkg {
			s.queued = append(s.queued[:i], s.queued[i+1:]...)
			break
		}
	}
	if !s.ready {
		return nil
	}
	payload, _ := Encode(supportsRemovePackage, []string{pkg})
	return payload
}

// Enable marks GMCP ready and returns the handshake payloads to transmit:
// Core.Hello, then Core.Supports.Add with any queued registrations.
func (s *State) Enable(client, version string) [][]byte {
	s.ready = true
	payloads := [][]byte{Hello(client, version)}
	if len(s.queued) > 0 {
		supports, _ := Encode(supportsAddPackage, s.queued)
		payloads = append(payloads, supports)
		s.queued = nil
	}
	return payloads
}

// Disable reverts the ready flag. Registered packages are not re-queued;
// scripts re-register on the next enable.
func (s *State) Disable() {
	s.ready = false
}
