package halfkay

import (
	"testing"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

func TestBuildBlockReport(t *testing.T) {
	blockAddr := 0x123400
	data := make([]byte, teensy.BlockSize)
	data[0] = 0xAA
	data[1] = 0xBB
	data[teensy.BlockSize-1] = 0xCC

	packet := BuildBlockReport(blockAddr, data)

	if len(packet) != teensy.PacketSize {
		t.Fatalf("len(packet) = %d, want %d", len(packet), teensy.PacketSize)
	}

	// Little-endian 24-bit byte address.
	if packet[0] != 0x00 || packet[1] != 0x34 || packet[2] != 0x12 {
		t.Errorf("address bytes = %02X %02X %02X, want 00 34 12", packet[0], packet[1], packet[2])
	}

	for i := 3; i < teensy.HeaderSize; i++ {
		if packet[i] != 0 {
			t.Errorf("header byte %d = 0x%02X, want 0", i, packet[i])
		}
	}

	payload := packet[teensy.HeaderSize:]
	if payload[0] != 0xAA || payload[1] != 0xBB || payload[teensy.BlockSize-1] != 0xCC {
		t.Error("payload bytes not copied")
	}
}

func TestBuildBlockReportPadsShortData(t *testing.T) {
	packet := BuildBlockReport(0, []byte{0x01, 0x02})

	if len(packet) != teensy.PacketSize {
		t.Fatalf("len(packet) = %d, want %d", len(packet), teensy.PacketSize)
	}
	payload := packet[teensy.HeaderSize:]
	if payload[0] != 0x01 || payload[1] != 0x02 {
		t.Error("payload bytes not copied")
	}
	for i := 2; i < teensy.BlockSize; i++ {
		if payload[i] != 0 {
			t.Fatalf("payload[%d] = 0x%02X, want 0 (zero padding)", i, payload[i])
		}
	}
}

func TestBuildBootReport(t *testing.T) {
	packet := BuildBootReport()

	if len(packet) != teensy.PacketSize {
		t.Fatalf("len(packet) = %d, want %d", len(packet), teensy.PacketSize)
	}
	if packet[0] != 0xFF || packet[1] != 0xFF || packet[2] != 0xFF {
		t.Errorf("header = %02X %02X %02X, want FF FF FF", packet[0], packet[1], packet[2])
	}
	for i := 3; i < teensy.PacketSize; i++ {
		if packet[i] != 0 {
			t.Fatalf("packet[%d] = 0x%02X, want 0", i, packet[i])
		}
	}
}
