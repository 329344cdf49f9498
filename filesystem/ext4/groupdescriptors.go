package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/diskfs/go-diskfs/filesystem/ext4/crc"
)

// blockGroupFlags holds the per-group flags recorded in the "uninit_bg" /
// flex_bg extensions: whether the inode and block bitmaps are uninitialized
// (implicit all-free) and whether the inode table itself still needs
// zeroing.
type blockGroupFlags struct {
	inodeUninitialized bool
	blockUninitialized bool
	inodeTableUnused    bool
}

func packBlockGroupFlags(f blockGroupFlags) uint16 {
	var v uint16
	if f.inodeUninitialized {
		v |= 0x0001
	}
	if f.blockUninitialized {
		v |= 0x0002
	}
	if f.inodeTableUnused {
		v |= 0x0004
	}
	return v
}

func unpackBlockGroupFlags(v uint16) blockGroupFlags {
	return blockGroupFlags{
		inodeUninitialized: v&0x0001 != 0,
		blockUninitialized: v&0x0002 != 0,
		inodeTableUnused:    v&0x0004 != 0,
	}
}

// groupDescriptor describes one block group: where its bitmaps and inode
// table live, and how many free blocks/inodes it has left. It is either 32
// or 64 bytes on disk, depending on the 64bit feature.
type groupDescriptor struct {
	number                          uint16
	size                            uint16
	blockBitmapLocation             uint64
	inodeBitmapLocation             uint64
	inodeTableLocation              uint64
	freeBlocks                      uint32
	freeInodes                      uint32
	usedDirectories                 uint32
	flags                           blockGroupFlags
	snapshotExclusionBitmapLocation uint64
	blockBitmapChecksum             uint32
	inodeBitmapChecksum             uint32
	unusedInodes                    uint32
}

func (gd *groupDescriptor) equal(other *groupDescriptor) bool {
	if gd == nil || other == nil {
		return gd == other
	}
	return gd.number == other.number &&
		gd.blockBitmapLocation == other.blockBitmapLocation &&
		gd.inodeBitmapLocation == other.inodeBitmapLocation &&
		gd.inodeTableLocation == other.inodeTableLocation &&
		gd.freeBlocks == other.freeBlocks &&
		gd.freeInodes == other.freeInodes &&
		gd.usedDirectories == other.usedDirectories
}

// toBytes serializes a single group descriptor, 32 bytes normally, 64 when
// the 64bit feature is enabled. A checksum is computed only for the
// metadata_csum type: a CRC32c over the checksum seed, the group number and
// the descriptor bytes themselves (with the checksum field zeroed), of which
// the low 16 bits are stored. For any other type the checksum field is left
// zero.
func (gd *groupDescriptor) toBytes(ct gdtChecksumType, checksumSeed uint32) []byte {
	is64Bit := gd.size >= groupDescriptorSize64Bit
	size := gd.size
	if size == 0 {
		size = groupDescriptorSize
	}
	b := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(b[0x00:], uint32(gd.blockBitmapLocation))
	le.PutUint32(b[0x04:], uint32(gd.inodeBitmapLocation))
	le.PutUint32(b[0x08:], uint32(gd.inodeTableLocation))
	le.PutUint16(b[0x0C:], uint16(gd.freeBlocks))
	le.PutUint16(b[0x0E:], uint16(gd.freeInodes))
	le.PutUint16(b[0x10:], uint16(gd.usedDirectories))
	le.PutUint16(b[0x12:], packBlockGroupFlags(gd.flags))
	le.PutUint32(b[0x14:], uint32(gd.snapshotExclusionBitmapLocation))
	le.PutUint16(b[0x18:], uint16(gd.blockBitmapChecksum))
	le.PutUint16(b[0x1A:], uint16(gd.inodeBitmapChecksum))
	le.PutUint16(b[0x1C:], uint16(gd.unusedInodes))

	if is64Bit {
		le.PutUint32(b[0x20:], uint32(gd.blockBitmapLocation>>32))
		le.PutUint32(b[0x24:], uint32(gd.inodeBitmapLocation>>32))
		le.PutUint32(b[0x28:], uint32(gd.inodeTableLocation>>32))
		le.PutUint16(b[0x2C:], uint16(gd.freeBlocks>>16))
		le.PutUint16(b[0x2E:], uint16(gd.freeInodes>>16))
		le.PutUint16(b[0x30:], uint16(gd.usedDirectories>>16))
		le.PutUint16(b[0x32:], uint16(gd.unusedInodes>>16))
		le.PutUint32(b[0x34:], uint32(gd.snapshotExclusionBitmapLocation>>32))
		le.PutUint16(b[0x38:], uint16(gd.blockBitmapChecksum>>16))
		le.PutUint16(b[0x3A:], uint16(gd.inodeBitmapChecksum>>16))
	}

	if ct == gdtChecksumMetadata {
		numBuf := make([]byte, 4)
		le.PutUint32(numBuf, uint32(gd.number))
		sum := crc.CRC32c(checksumSeed, numBuf)
		sum = crc.CRC32c(sum, b)
		le.PutUint16(b[0x1E:], uint16(sum))
	}

	return b
}

func groupDescriptorFromBytes(b []byte, number uint16, size uint16) (*groupDescriptor, error) {
	if len(b) < int(size) {
		return nil, fmt.Errorf("group descriptor data too short: got %d bytes, need %d", len(b), size)
	}
	le := binary.LittleEndian
	gd := &groupDescriptor{number: number, size: size}
	gd.blockBitmapLocation = uint64(le.Uint32(b[0x00:]))
	gd.inodeBitmapLocation = uint64(le.Uint32(b[0x04:]))
	gd.inodeTableLocation = uint64(le.Uint32(b[0x08:]))
	gd.freeBlocks = uint32(le.Uint16(b[0x0C:]))
	gd.freeInodes = uint32(le.Uint16(b[0x0E:]))
	gd.usedDirectories = uint32(le.Uint16(b[0x10:]))
	gd.flags = unpackBlockGroupFlags(le.Uint16(b[0x12:]))
	gd.snapshotExclusionBitmapLocation = uint64(le.Uint32(b[0x14:]))
	gd.blockBitmapChecksum = uint32(le.Uint16(b[0x18:]))
	gd.inodeBitmapChecksum = uint32(le.Uint16(b[0x1A:]))
	gd.unusedInodes = uint32(le.Uint16(b[0x1C:]))

	if size >= groupDescriptorSize64Bit {
		gd.blockBitmapLocation |= uint64(le.Uint32(b[0x20:])) << 32
		gd.inodeBitmapLocation |= uint64(le.Uint32(b[0x24:])) << 32
		gd.inodeTableLocation |= uint64(le.Uint32(b[0x28:])) << 32
		gd.freeBlocks |= uint32(le.Uint16(b[0x2C:])) << 16
		gd.freeInodes |= uint32(le.Uint16(b[0x2E:])) << 16
		gd.usedDirectories |= uint32(le.Uint16(b[0x30:])) << 16
		gd.unusedInodes |= uint32(le.Uint16(b[0x32:])) << 16
		gd.snapshotExclusionBitmapLocation |= uint64(le.Uint32(b[0x34:])) << 32
		gd.blockBitmapChecksum |= uint32(le.Uint16(b[0x38:])) << 16
		gd.inodeBitmapChecksum |= uint32(le.Uint16(b[0x3A:])) << 16
	}

	return gd, nil
}

// groupDescriptors is the full group descriptor table (GDT), one entry per
// block group, immediately following the superblock's block.
type groupDescriptors struct {
	descriptors []groupDescriptor
}

func (gdt *groupDescriptors) equal(other *groupDescriptors) bool {
	if gdt == nil || other == nil {
		return gdt == other
	}
	if len(gdt.descriptors) != len(other.descriptors) {
		return false
	}
	for i := range gdt.descriptors {
		if !gdt.descriptors[i].equal(&other.descriptors[i]) {
			return false
		}
	}
	return true
}

func (gdt *groupDescriptors) toBytes(ct gdtChecksumType, checksumSeed uint32) []byte {
	is64Bit := false
	for i := range gdt.descriptors {
		if gdt.descriptors[i].size >= groupDescriptorSize64Bit {
			is64Bit = true
			break
		}
	}
	size := groupDescriptorSize
	if is64Bit {
		size = groupDescriptorSize64Bit
	}
	b := make([]byte, 0, int(size)*len(gdt.descriptors))
	for i := range gdt.descriptors {
		b = append(b, gdt.descriptors[i].toBytes(ct, checksumSeed)...)
	}
	return b
}

func groupDescriptorsFromBytes(b []byte, size uint16, checksumSeed uint32, ct gdtChecksumType) (*groupDescriptors, error) {
	if size == 0 {
		size = groupDescriptorSize
	}
	count := len(b) / int(size)
	descs := make([]groupDescriptor, 0, count)
	for i := 0; i < count; i++ {
		gd, err := groupDescriptorFromBytes(b[i*int(size):(i+1)*int(size)], uint16(i), size)
		if err != nil {
			return nil, fmt.Errorf("failed to parse group descriptor %d: %w", i, err)
		}
		descs = append(descs, *gd)
	}
	return &groupDescriptors{descriptors: descs}, nil
}
