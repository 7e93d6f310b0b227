// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReadPCAP reads the UDP datagrams of a libpcap capture as packets of
// big-endian 64-bit words.
// Only datagrams sent to port are kept, unless port is zero or negative.
func ReadPCAP(r io.Reader, port int) ([]RawPacket, error) {
	rr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("packet: could not open pcap stream: %w", err)
	}

	var (
		pkts []RawPacket
		rec  = -1
	)
	for {
		data, ci, err := rr.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return pkts, fmt.Errorf("packet: could not read pcap record %d: %w", rec+1, err)
		}
		rec++

		pkt := gopacket.NewPacket(data, rr.LinkType(), gopacket.Default)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if port > 0 && int(udp.DstPort) != port {
			continue
		}

		var src uint64
		if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			if v4 := ip.SrcIP.To4(); v4 != nil {
				src = uint64(binary.BigEndian.Uint32(v4))
			}
		}

		var (
			payload = udp.Payload
			n       = len(payload) / 8
			p       = RawPacket{
				Index:    len(pkts),
				Start:    rec,
				End:      rec,
				Words:    make([]uint64, n),
				Src:      make([]uint64, n),
				Valid:    make([]bool, n),
				Trailing: len(payload) % 8,
				Time:     ci.Timestamp,
			}
		)
		for i := range p.Words {
			p.Words[i] = binary.BigEndian.Uint64(payload[8*i:])
			p.Src[i] = src
			p.Valid[i] = true
		}
		pkts = append(pkts, p)
	}

	return pkts, nil
}

// AddrString formats a source address as a dotted IPv4 address.
func AddrString(v uint64) string {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}
