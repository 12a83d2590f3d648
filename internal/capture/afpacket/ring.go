package afpacket

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	maxBlockSize     = 4 * 1024 * 1024
)

// ringGeometry aligns the configured ring to the PACKET_MMAP constraints:
//  1. frameSize is a multiple of TPACKET_ALIGNMENT
//  2. blockSize is a multiple of both pageSize and frameSize
//  3. numBlocks is at least one
//
// The requested block size is rounded up, never down, so the ring holds at
// least the configured memory.
func ringGeometry(frameSize, blockSize, numBlocks, pageSize int) (int, int, int, error) {
	if frameSize <= 0 {
		return 0, 0, 0, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if blockSize <= 0 {
		return 0, 0, 0, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(frameSize, tpacketAlignment)
	unit := lcm(pageSize, frameSize)
	if unit > maxBlockSize {
		return 0, 0, 0, fmt.Errorf("frame size %d cannot be aligned to page size %d within %d bytes", frameSize, pageSize, maxBlockSize)
	}
	blockSize = min(alignUp(blockSize, unit), maxBlockSize/unit*unit)
	return frameSize, blockSize, max(numBlocks, 1), nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
