package hexfile

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

func record(addr uint16, recType byte, payload []byte) string {
	b := []byte{byte(len(payload)), byte(addr >> 8), byte(addr)}
	b = append(b, recType)
	b = append(b, payload...)
	b = append(b, checksum(b))

	var sb strings.Builder
	sb.WriteByte(':')
	for _, v := range b {
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

func eof() string { return record(0, 0x01, nil) }

func TestParseMapsFlexSPIBase(t *testing.T) {
	// Extended linear address 0x6000 -> FlexSPI base 0x60000000.
	src := strings.Join([]string{
		record(0x0000, 0x04, []byte{0x60, 0x00}),
		record(0x0010, 0x00, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
		eof(),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i, b := range want {
		if img.Data[0x10+i] != b {
			t.Errorf("Data[0x%X] = 0x%02X, want 0x%02X", 0x10+i, img.Data[0x10+i], b)
		}
		if !img.Written(0x10 + i) {
			t.Errorf("Written(0x%X) = false, want true", 0x10+i)
		}
	}
	if img.ByteCount != 4 {
		t.Errorf("ByteCount = %d, want 4", img.ByteCount)
	}
	if len(img.BlocksToWrite) != 1 || img.BlocksToWrite[0] != 0 {
		t.Errorf("BlocksToWrite = %v, want [0]", img.BlocksToWrite)
	}
}

func TestParseExtendedSegmentAddress(t *testing.T) {
	// Segment 0x0100 shifts left by 4 -> base 0x1000.
	src := strings.Join([]string{
		record(0x0000, 0x02, []byte{0x01, 0x00}),
		record(0x0004, 0x00, []byte{0x42}),
		eof(),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if img.Data[0x1004] != 0x42 {
		t.Errorf("Data[0x1004] = 0x%02X, want 0x42", img.Data[0x1004])
	}
}

func TestParseStopsAtEOFRecord(t *testing.T) {
	src := strings.Join([]string{
		record(0x0000, 0x00, []byte{0x11}),
		eof(),
		record(0x0004, 0x00, []byte{0x22}),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if img.Data[0x04] != 0xFF {
		t.Errorf("Data[0x04] = 0x%02X, want 0xFF (record after EOF must be ignored)", img.Data[0x04])
	}
}

func TestParseIgnoresUnknownRecordTypes(t *testing.T) {
	src := strings.Join([]string{
		record(0x0000, 0x03, []byte{0x00, 0x00, 0x10, 0x00}), // start segment address
		record(0x0000, 0x05, []byte{0x00, 0x00, 0x10, 0x00}), // start linear address
		record(0x0000, 0x00, []byte{0x7F}),
		eof(),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if img.Data[0] != 0x7F {
		t.Errorf("Data[0] = 0x%02X, want 0x7F", img.Data[0])
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing colon", "00000001FF"},
		{"odd digits", ":0000001"},
		{"bad digit", ":00000001FZ"},
		{"too short", ":0000"},
		{"bad checksum", ":04001000DEADBEEF00\n" + eof()},
		{"length mismatch", ":08001000DEADBEEF64\n" + eof()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !errors.Is(err, ErrInvalidHex) {
				t.Errorf("errors.Is(err, ErrInvalidHex) = false, err = %v", err)
			}
		})
	}
}

func TestParseRejectsOversizedLine(t *testing.T) {
	// Longer than the scanner's buffer; typical of a binary passed by
	// mistake.
	src := ":" + strings.Repeat("00", 1024*1024)
	if _, err := Parse(strings.NewReader(src)); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("Parse() error = %v, want ErrInvalidHex", err)
	}
}

func TestParseRejectsOutOfRangeAddress(t *testing.T) {
	// 0x607C0000 is just past the FlexSPI-mapped flash region.
	src := strings.Join([]string{
		record(0x0000, 0x04, []byte{0x60, 0x7C}),
		record(0x0000, 0x00, []byte{0x01}),
		eof(),
	}, "\n")

	_, err := Parse(strings.NewReader(src))
	if err == nil {
		t.Fatal("Parse() error = nil, want AddressError")
	}
	var addrErr *AddressError
	if !errors.As(err, &addrErr) {
		t.Fatalf("error = %v, want *AddressError", err)
	}
	if !errors.Is(err, ErrInvalidHex) {
		t.Error("errors.Is(err, ErrInvalidHex) = false, want true")
	}
}

func TestParseRejectsOutOfRangeLateInFile(t *testing.T) {
	src := strings.Join([]string{
		record(0x0000, 0x00, []byte{0x01, 0x02}),
		record(0x0000, 0x04, []byte{0x7F, 0xFF}),
		record(0x0000, 0x00, []byte{0x03}),
		eof(),
	}, "\n")

	if _, err := Parse(strings.NewReader(src)); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("Parse() error = %v, want ErrInvalidHex", err)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	src := strings.Join([]string{
		record(0x0000, 0x04, []byte{0x60, 0x00}),
		record(0x0000, 0x00, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		record(0x0400, 0x00, []byte{9, 10, 11, 12}),
		eof(),
	}, "\n")

	a, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if a.ByteCount != b.ByteCount {
		t.Errorf("ByteCount differs: %d vs %d", a.ByteCount, b.ByteCount)
	}
	if len(a.BlocksToWrite) != len(b.BlocksToWrite) {
		t.Fatalf("BlocksToWrite differ: %v vs %v", a.BlocksToWrite, b.BlocksToWrite)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Data[%d] differs: 0x%02X vs 0x%02X", i, a.Data[i], b.Data[i])
		}
	}
}

func TestBlankBlocksAreSkipped(t *testing.T) {
	// Data in block 0 and block 5; blocks 1-4 untouched.
	src := strings.Join([]string{
		record(0x0000, 0x00, []byte{0xAA}),
		record(uint16(5*teensy.BlockSize), 0x00, []byte{0xBB}),
		eof(),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []int{0, 5 * teensy.BlockSize}
	if len(img.BlocksToWrite) != len(want) {
		t.Fatalf("BlocksToWrite = %v, want %v", img.BlocksToWrite, want)
	}
	for i := range want {
		if img.BlocksToWrite[i] != want[i] {
			t.Errorf("BlocksToWrite[%d] = %d, want %d", i, img.BlocksToWrite[i], want[i])
		}
	}
}

func TestBlockZeroAlwaysWritten(t *testing.T) {
	// 0xFF data only: every block is blank, but block 0 still goes out.
	src := strings.Join([]string{
		record(0x0000, 0x00, []byte{0xFF, 0xFF}),
		eof(),
	}, "\n")

	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(img.BlocksToWrite) != 1 || img.BlocksToWrite[0] != 0 {
		t.Errorf("BlocksToWrite = %v, want [0]", img.BlocksToWrite)
	}
}

func TestParseBlankLinesAllowed(t *testing.T) {
	src := "\n" + record(0x0000, 0x00, []byte{0x55}) + "\n\n" + eof() + "\n"
	img, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if img.Data[0] != 0x55 {
		t.Errorf("Data[0] = 0x%02X, want 0x55", img.Data[0])
	}
}
