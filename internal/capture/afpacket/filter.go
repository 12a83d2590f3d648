// Package afpacket provides live capture channels on one PACKET_FANOUT group,
// one TPACKET_V3 socket per channel.
package afpacket

import (
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

// snapLen is what the kernel filter keeps of each accepted frame.
const snapLen = 0x40000

// filterProgram accepts Ethernet frames carrying IPv4 and drops the rest in
// the kernel.
func filterProgram() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeIPv4), SkipFalse: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	}
}

// Filter assembles the IPv4-only socket filter.
func Filter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(filterProgram())
}
