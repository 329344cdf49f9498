package ext4

import (
	"encoding/binary"
	"fmt"
)

// Directory represents an open directory: the directoryEntry that points at
// it (its own name and inode, as seen from its parent) plus the entries it
// contains. The root directory has no parent entry pointing at it, hence the
// root flag rather than a nil check on a parent pointer.
type Directory struct {
	directoryEntry
	entries []*directoryEntry
	root    bool
}

// toBytes serializes the directory's entries into a single on-disk
// directory block using the classic linear layout, then runs appender over
// the result so callers can add a metadata_csum tail.
func (d *Directory) toBytes(blockSize uint32, appender func([]byte) []byte) []byte {
	b := direntryToBytes(d.entries, blockSize)
	if appender != nil {
		b = appender(b)
	}
	return b
}

const (
	dxRootInfoOffset = 24
	dxFakeDirentSize = 8
)

// treeRootInfo is struct dx_root_info: the handful of bytes ext4 stores
// right after the root directory's "." and ".." entries to describe its
// hash tree.
type treeRootInfo struct {
	hashVersion    hashVersion
	infoLength     uint8
	indirectLevels uint8
	unusedFlags    uint8
}

// dxEntry is one struct dx_entry: a hash value and the logical block (within
// the directory's own data, not a disk block number) it routes to.
type dxEntry struct {
	hash  uint32
	block uint32
}

// treeRoot is the parsed first block of a directory that has the
// hashedDirectoryIndexes flag set (struct dx_root). Reading tolerates any
// indirect_levels the on-disk structure specifies; this package never
// writes hashed directories, so there is no corresponding "from scratch"
// constructor.
type treeRoot struct {
	dotEntry    *directoryEntry
	dotDotEntry *directoryEntry
	info        treeRootInfo
	depth       int
	entries     []dxEntry
}

// parseDirectoryTreeRoot parses struct dx_root out of the first block of a
// hashed directory: the dot and dotdot fake dirents, the dx_root_info that
// follows them, and the dx_entry array (whose first slot is the
// dx_countlimit header, sharing its block field with the first dx_entry).
func parseDirectoryTreeRoot(b []byte, largeDirectory bool) (*treeRoot, error) {
	if len(b) < dxRootInfoOffset+8 {
		return nil, fmt.Errorf("block too short to hold a directory tree root: %d bytes", len(b))
	}

	dotEntry, err := parseFakeDirent(b, 0, ".")
	if err != nil {
		return nil, fmt.Errorf("invalid dot entry in directory tree root: %w", err)
	}
	dotDotEntry, err := parseFakeDirent(b, 12, "..")
	if err != nil {
		return nil, fmt.Errorf("invalid dotdot entry in directory tree root: %w", err)
	}

	info := treeRootInfo{
		hashVersion:    hashVersion(b[dxRootInfoOffset+4]),
		infoLength:     b[dxRootInfoOffset+5],
		indirectLevels: b[dxRootInfoOffset+6],
		unusedFlags:    b[dxRootInfoOffset+7],
	}
	infoLength := int(info.infoLength)
	if infoLength == 0 {
		infoLength = 8
	}
	entriesOffset := dxRootInfoOffset + infoLength

	entries, err := parseDxEntries(b, entriesOffset)
	if err != nil {
		return nil, fmt.Errorf("invalid directory tree root entries: %w", err)
	}

	return &treeRoot{
		dotEntry:    dotEntry,
		dotDotEntry: dotDotEntry,
		info:        info,
		depth:       int(info.indirectLevels),
		entries:     entries,
	}, nil
}

// parseFakeDirent reads a struct fake_dirent (or struct ext4_dir_entry_2
// used as one) at the given offset, checking that its name matches what is
// expected ("." or "..") and returning a directoryEntry for it.
func parseFakeDirent(b []byte, offset int, expectName string) (*directoryEntry, error) {
	if offset+direntHeaderSize > len(b) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	inodeNum := binary.LittleEndian.Uint32(b[offset:])
	nameLen := int(b[offset+6])
	fileType := dirFileType(b[offset+7])
	if nameLen != len(expectName) {
		return nil, fmt.Errorf("expected name %q of length %d, got length %d", expectName, len(expectName), nameLen)
	}
	nameEnd := offset + direntHeaderSize + nameLen
	if nameEnd > len(b) {
		return nil, fmt.Errorf("name at offset %d overruns block", offset)
	}
	name := string(b[offset+direntHeaderSize : nameEnd])
	if name != expectName {
		return nil, fmt.Errorf("expected name %q, got %q", expectName, name)
	}
	return &directoryEntry{inode: inodeNum, filename: name, fileType: fileType}, nil
}

// parseDxEntries reads the dx_countlimit header at offset, whose last four
// bytes hold the block of the first dx_entry (its hash is implied to be 0),
// then the (count-1) dx_entry values that follow it.
func parseDxEntries(b []byte, offset int) ([]dxEntry, error) {
	if offset+dxFakeDirentSize > len(b) {
		return nil, fmt.Errorf("countlimit at offset %d out of range", offset)
	}
	count := int(binary.LittleEndian.Uint16(b[offset+2:]))
	if count == 0 {
		return nil, nil
	}
	realOffset := offset + dxFakeDirentSize
	entries := make([]dxEntry, 0, count)
	entries = append(entries, dxEntry{hash: 0, block: binary.LittleEndian.Uint32(b[offset+4:])})
	for i := 1; i < count; i++ {
		entryOffset := realOffset + (i-1)*8
		if entryOffset+8 > len(b) {
			break
		}
		entries = append(entries, dxEntry{
			hash:  binary.LittleEndian.Uint32(b[entryOffset:]),
			block: binary.LittleEndian.Uint32(b[entryOffset+4:]),
		})
	}
	return entries, nil
}

// parseDxNodeBlock reads struct dx_node: a fake dirent placeholder followed
// by the same dx_countlimit/dx_entry layout as the root.
func parseDxNodeBlock(b []byte) ([]dxEntry, error) {
	return parseDxEntries(b, dxFakeDirentSize)
}

// leafBlocksFromEntries walks levels worth of intermediate dx_node blocks
// (each referenced by a logical block number into the directory's own data,
// addressed through data) to collect the logical block numbers of the leaf
// blocks holding actual directory entries.
func leafBlocksFromEntries(data []byte, entries []dxEntry, blockSize uint32, levels int) ([]uint32, error) {
	if levels <= 0 {
		blocks := make([]uint32, len(entries))
		for i, e := range entries {
			blocks[i] = e.block
		}
		return blocks, nil
	}
	var leaves []uint32
	for _, e := range entries {
		start := int(e.block) * int(blockSize)
		if start+int(blockSize) > len(data) {
			return nil, fmt.Errorf("directory tree node block %d out of range", e.block)
		}
		nodeEntries, err := parseDxNodeBlock(data[start : start+int(blockSize)])
		if err != nil {
			return nil, err
		}
		childLeaves, err := leafBlocksFromEntries(data, nodeEntries, blockSize, levels-1)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, childLeaves...)
	}
	return leaves, nil
}

// parseDirEntriesHashed reads the actual file entries out of a hashed
// (htree) directory, given the already-parsed root block. It only supports
// reading; this package never builds or rebalances a hash tree on write,
// matching e2fsprogs behavior for filesystems it did not itself index.
func parseDirEntriesHashed(b []byte, depth int, root *treeRoot, blockSize uint32, metadataChecksums bool, dirInode uint32, generation uint32, checksumSeed uint32) ([]*directoryEntry, error) {
	leafBlocks, err := leafBlocksFromEntries(b, root.entries, blockSize, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hash tree leaf blocks: %w", err)
	}

	var entries []*directoryEntry
	bs := int(blockSize)
	for _, lb := range leafBlocks {
		start := int(lb) * bs
		if start+bs > len(b) {
			return nil, fmt.Errorf("directory leaf block %d out of range", lb)
		}
		leafEntries, err := parseDirEntriesLinear(b[start:start+bs], metadataChecksums, blockSize, dirInode, generation, checksumSeed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hashed directory leaf block %d: %w", lb, err)
		}
		entries = append(entries, leafEntries...)
	}
	return entries, nil
}
