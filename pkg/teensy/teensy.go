// Package teensy holds the fixed identifiers and geometry of the
// Teensy 4.1 HalfKay bootloader target.
package teensy

const (
	// PJRC USB identifiers
	VendorID       = 0x16C0
	ProductHalfKay = 0x0478

	// Programmable flash geometry (Teensy 4.1, FlexSPI-mapped)
	CodeSize  = 8_126_464
	BlockSize = 1024

	// HalfKay report geometry
	HeaderSize = 64
	PacketSize = HeaderSize + BlockSize // 1088

	// Base of the FlexSPI window the HEX files address. Subtracted to get
	// the zero-based program-space address.
	FlexSPIBase = 0x6000_0000
)

// NumBlocks is the number of 1K blocks covering the full flash region.
const NumBlocks = CodeSize / BlockSize
