// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packet

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func udpFrame(t *testing.T, src string, port int, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.IPv4(239, 10, 0, 1).To4(),
	}
	udp := &layers.UDP{
		SrcPort: 7148,
		DstPort: layers.UDPPort(port),
	}
	err := udp.SetNetworkLayerForChecksum(ip)
	if err != nil {
		t.Fatalf("could not set network layer: %+v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	err = gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload(payload),
	)
	if err != nil {
		t.Fatalf("could not serialize frame: %+v", err)
	}
	return buf.Bytes()
}

func words(vs ...uint64) []byte {
	o := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint64(o[8*i:], v)
	}
	return o
}

func TestReadPCAP(t *testing.T) {
	var (
		buf = new(bytes.Buffer)
		t0  = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	)

	w := pcapgo.NewWriter(buf)
	err := w.WriteFileHeader(65536, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("could not write pcap header: %+v", err)
	}

	frames := [][]byte{
		udpFrame(t, "10.100.0.1", 7148, words(0x5304020600000002, 0x8000040000000010)),
		udpFrame(t, "10.100.0.2", 9999, words(1, 2, 3)),
		udpFrame(t, "10.100.0.3", 7148, append(words(0xcafe), 0xff, 0xfe)),
	}
	for i, frame := range frames {
		err := w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     t0.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame)
		if err != nil {
			t.Fatalf("could not write frame %d: %+v", i, err)
		}
	}

	raw := buf.Bytes()

	pkts, err := ReadPCAP(bytes.NewReader(raw), 7148)
	if err != nil {
		t.Fatalf("could not read pcap: %+v", err)
	}

	want := []RawPacket{
		{
			Index: 0, Start: 0, End: 0,
			Words: []uint64{0x5304020600000002, 0x8000040000000010},
			Src:   []uint64{0x0a640001, 0x0a640001},
			Valid: []bool{true, true},
			Time:  t0,
		},
		{
			Index: 1, Start: 2, End: 2,
			Words:    []uint64{0xcafe},
			Src:      []uint64{0x0a640003},
			Valid:    []bool{true},
			Trailing: 2,
			Time:     t0.Add(2 * time.Millisecond),
		},
	}
	if diff := cmp.Diff(want, pkts, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("invalid packets: (-want, +got)\n%s", diff)
	}

	all, err := ReadPCAP(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("could not read pcap: %+v", err)
	}
	if got, want := len(all), 3; got != want {
		t.Fatalf("invalid number of packets: got=%d, want=%d", got, want)
	}
	if got, want := AddrString(all[1].Src[0]), "10.100.0.2"; got != want {
		t.Fatalf("invalid source: got=%q, want=%q", got, want)
	}

	_, err = ReadPCAP(bytes.NewReader([]byte("not a pcap file")), 0)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
