// Package capture turns captured link-layer frames into fixed-width records.
package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/core/decoder"
)

// Extractor pulls IPv4 addressing metadata out of frames. It reuses its
// layer storage and is not safe for concurrent use.
type Extractor struct {
	parser *gopacket.DecodingLayerParser

	eth layers.Ethernet
	ip4 layers.IPv4
	tcp layers.TCP
	udp layers.UDP

	decoded []gopacket.LayerType
}

// NewExtractor creates an extractor for frames starting at first, usually
// layers.LayerTypeEthernet.
func NewExtractor(first gopacket.LayerType) *Extractor {
	e := &Extractor{decoded: make([]gopacket.LayerType, 0, 4)}
	e.parser = gopacket.NewDecodingLayerParser(first, &e.eth, &e.ip4, &e.tcp, &e.udp)
	e.parser.IgnoreUnsupported = true
	return e
}

// Record parses frame and returns the addressing metadata of an IPv4
// packet. Ports are zero unless a TCP or UDP header decoded, so a frame cut
// short by the snap length still yields its addresses.
func (e *Extractor) Record(frame []byte) (core.PacketRecord, bool) {
	e.decoded = e.decoded[:0]
	// On error e.decoded still lists the layers decoded before the failure.
	_ = e.parser.DecodeLayers(frame, &e.decoded)

	var rec core.PacketRecord
	ipv4 := false
	for _, lt := range e.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, dst := e.ip4.SrcIP.To4(), e.ip4.DstIP.To4()
			if src == nil || dst == nil {
				return core.PacketRecord{}, false
			}
			copy(rec.Src.Addr[:], src)
			copy(rec.Dst.Addr[:], dst)
			ipv4 = true
		case layers.LayerTypeTCP:
			rec.Src.Port = uint16(e.tcp.SrcPort)
			rec.Dst.Port = uint16(e.tcp.DstPort)
		case layers.LayerTypeUDP:
			rec.Src.Port = uint16(e.udp.SrcPort)
			rec.Dst.Port = uint16(e.udp.DstPort)
		}
	}
	return rec, ipv4
}

// Extract writes the wire record of frame into slot. It reports false for
// frames that carry no IPv4 packet or when slot is too short.
func (e *Extractor) Extract(frame, slot []byte) bool {
	rec, ok := e.Record(frame)
	if !ok {
		return false
	}
	return decoder.Encode(rec, slot) == nil
}
