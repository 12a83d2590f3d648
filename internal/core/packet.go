// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
)

// Wire layout of one capture record.
const (
	// RecordSize is the number of meaningful bytes in a record:
	// src addr (4) + src port (2) + dst addr (4) + dst port (2).
	RecordSize = 12
	// SlotSize is the width reserved per record by producers. Bytes past
	// RecordSize are padding.
	SlotSize = 20
)

// AddressPort is an IPv4 address and transport port.
type AddressPort struct {
	Addr [4]byte
	Port uint16
}

// Netip returns the address as a netip.Addr.
func (ap AddressPort) Netip() netip.Addr {
	return netip.AddrFrom4(ap.Addr)
}

func (ap AddressPort) String() string {
	return netip.AddrPortFrom(ap.Netip(), ap.Port).String()
}

// PacketRecord is the metadata extracted from one observed packet.
type PacketRecord struct {
	Src AddressPort
	Dst AddressPort
}

func (r PacketRecord) String() string {
	return fmt.Sprintf("%s -> %s", r.Src, r.Dst)
}

// Voice is one synthesized tone.
type Voice struct {
	Freq float64 // Hz
	Gain float64 // linear amplitude
}
