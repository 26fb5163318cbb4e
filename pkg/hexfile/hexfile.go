// Package hexfile parses Intel HEX firmware files into a flash image for
// the Teensy 4.1, applying the FlexSPI address mapping and validating that
// every byte lands inside the programmable region.
package hexfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// ErrInvalidHex tags every parse failure so callers can classify with
// errors.Is without inspecting concrete error types.
var ErrInvalidHex = errors.New("invalid hex")

// Record types handled by the parser. Everything else is ignored.
const (
	recData          = 0x00
	recEOF           = 0x01
	recExtSegment    = 0x02
	recExtLinearAddr = 0x04
)

// Image is a dense firmware image over the full flash region, plus the
// bookkeeping needed to skip blank blocks during flashing.
type Image struct {
	// Data covers [0, teensy.CodeSize). Unwritten bytes are 0xFF, the
	// erased-flash value.
	Data []byte

	// ByteCount is the number of data-record bytes in the source file.
	ByteCount int

	// NumBlocks is the block count of the full flash region.
	NumBlocks int

	// BlocksToWrite lists the byte addresses of blocks that must be sent,
	// in ascending order. Block 0 is always included.
	BlocksToWrite []int

	written []bool
}

// LineError reports a malformed record with its 1-based line number.
type LineError struct {
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("invalid hex line %d: %s", e.Line, e.Msg)
}

func (e *LineError) Is(target error) bool { return target == ErrInvalidHex }

// AddressError reports a data byte whose mapped address is outside the
// programmable flash region.
type AddressError struct {
	Line int
	Addr uint32
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("address out of Teensy 4.1 range at line %d: 0x%08X", e.Line, e.Addr)
}

func (e *AddressError) Is(target error) bool { return target == ErrInvalidHex }

// Load reads and parses the Intel HEX file at path.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse consumes Intel HEX text and produces a validated image.
//
// Records are processed in file order. Extended segment and extended linear
// address records move the upper address bits; data records write payload
// bytes at extended base + offset; the first EOF record stops processing.
// Unknown record types are ignored. Addresses inside the FlexSPI window are
// rebased to program space before validation.
func Parse(r io.Reader) (*Image, error) {
	img := &Image{
		Data:      make([]byte, teensy.CodeSize),
		NumBlocks: teensy.NumBlocks,
		written:   make([]bool, teensy.CodeSize),
	}
	for i := range img.Data {
		img.Data[i] = 0xFF
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)

	var extAddr uint32
	lineNo := 0

scan:
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !utf8.ValidString(line) {
			return nil, &LineError{Line: lineNo, Msg: "not text; did you pass a .elf?"}
		}
		if line[0] != ':' {
			return nil, &LineError{Line: lineNo, Msg: "missing ':' prefix"}
		}

		raw, err := decodeHexBytes(line[1:])
		if err != nil {
			return nil, &LineError{Line: lineNo, Msg: err.Error()}
		}
		if len(raw) < 5 {
			return nil, &LineError{Line: lineNo, Msg: "record too short"}
		}

		count := int(raw[0])
		offset := uint32(raw[1])<<8 | uint32(raw[2])
		recType := raw[3]

		if len(raw) != 5+count {
			return nil, &LineError{
				Line: lineNo,
				Msg:  fmt.Sprintf("bad length (expected %d record bytes, got %d)", 5+count, len(raw)),
			}
		}

		payload := raw[4 : 4+count]
		if raw[4+count] != checksum(raw[:4+count]) {
			return nil, &LineError{Line: lineNo, Msg: "bad checksum"}
		}

		switch recType {
		case recData:
			img.ByteCount += count
			for i, b := range payload {
				abs := extAddr + offset + uint32(i)
				mapped, ok := mapAddr(abs)
				if !ok {
					return nil, &AddressError{Line: lineNo, Addr: abs}
				}
				img.Data[mapped] = b
				img.written[mapped] = true
			}

		case recEOF:
			break scan

		case recExtSegment:
			if count == 2 {
				seg := uint32(payload[0])<<8 | uint32(payload[1])
				extAddr = seg << 4
			}

		case recExtLinearAddr:
			if count == 2 {
				hi := uint32(payload[0])<<8 | uint32(payload[1])
				extAddr = hi << 16
				// Teensy 4.x HEX files address the FlexSPI window.
				if extAddr >= teensy.FlexSPIBase && extAddr < teensy.FlexSPIBase+teensy.CodeSize {
					extAddr -= teensy.FlexSPIBase
				}
			}

		default:
			// ignore other record types
		}
	}
	if err := sc.Err(); err != nil {
		// Scanner failures (an oversized line, for one) mean the input is
		// not a HEX file, so they classify with the parse errors.
		return nil, &LineError{Line: lineNo + 1, Msg: err.Error()}
	}

	img.BlocksToWrite = collectBlocks(img)
	return img, nil
}

// collectBlocks returns the block start addresses worth sending. Blocks
// that were never written (or hold only 0xFF) are skipped, but block 0 is
// always sent so the bootloader performs its initial erase.
func collectBlocks(img *Image) []int {
	var out []int
	for idx := 0; idx < img.NumBlocks; idx++ {
		start := idx * teensy.BlockSize
		if idx == 0 || !blockBlank(img, start) {
			out = append(out, start)
		}
	}
	return out
}

func blockBlank(img *Image, start int) bool {
	for i := start; i < start+teensy.BlockSize; i++ {
		if img.written[i] && img.Data[i] != 0xFF {
			return false
		}
	}
	return true
}

// Written reports whether the byte at the mapped address was populated by
// a data record.
func (img *Image) Written(addr int) bool {
	return addr >= 0 && addr < len(img.written) && img.written[addr]
}

func mapAddr(addr uint32) (int, bool) {
	// After FlexSPI rebasing, valid firmware addresses are within
	// [0, CodeSize).
	if addr < teensy.CodeSize {
		return int(addr), true
	}
	return 0, false
}

func decodeHexBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd number of hex digits")
	}
	out := make([]byte, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		hi, ok1 := hexDigit(s[i])
		lo, ok2 := hexDigit(s[i+1])
		if !ok1 || !ok2 {
			return nil, errors.New("invalid hex digit")
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return -sum
}
