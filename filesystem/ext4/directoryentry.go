package ext4

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"

	"github.com/diskfs/go-diskfs/filesystem/ext4/crc"
)

// dirFileType is the file_type byte embedded in each linear directory entry,
// letting readdir() know what kind of inode an entry points at without an
// extra inode read.
type dirFileType uint8

const (
	dirFileTypeUnknown  dirFileType = 0
	dirFileTypeRegular  dirFileType = 1
	dirFileTypeDirectory dirFileType = 2
	dirFileTypeCharacter dirFileType = 3
	dirFileTypeBlock     dirFileType = 4
	dirFileTypeFIFO      dirFileType = 5
	dirFileTypeSocket    dirFileType = 6
	dirFileTypeSymlink   dirFileType = 7
	dirFileTypeChecksum  dirFileType = 0xDE // pseudo-entry holding the tail checksum
)

const (
	direntHeaderSize = 8
	direntTailSize   = 12
	direntNameMax    = 255
)

// directoryEntry is one entry in a directory's entry list: a name, the inode
// it refers to, and the kind of inode it is. It carries no other inode
// metadata; callers that need size, owner, or timestamps read the inode
// itself.
type directoryEntry struct {
	inode    uint32
	filename string
	fileType dirFileType
}

// directoryFileType maps an inode's on-disk file type (the high bits of
// i_mode) to the file_type byte stored alongside a directory entry.
func directoryFileType(ft fileType) dirFileType {
	switch ft {
	case fileTypeRegularFile:
		return dirFileTypeRegular
	case fileTypeDirectory:
		return dirFileTypeDirectory
	case fileTypeSymbolicLink:
		return dirFileTypeSymlink
	case fileTypeCharacterDevice:
		return dirFileTypeCharacter
	case fileTypeBlockDevice:
		return dirFileTypeBlock
	case fileTypeFifo:
		return dirFileTypeFIFO
	case fileTypeSocket:
		return dirFileTypeSocket
	default:
		return dirFileTypeUnknown
	}
}

func (de *directoryEntry) equal(other *directoryEntry) bool {
	if de == nil || other == nil {
		return de == other
	}
	return de.inode == other.inode && de.filename == other.filename && de.fileType == other.fileType
}

// recLen is the on-disk record length for this entry: an 8-byte header plus
// the name, rounded up to a 4-byte boundary.
func (de *directoryEntry) recLen() uint16 {
	n := direntHeaderSize + len(de.filename)
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return uint16(n)
}

// appenderFunc post-processes a fully assembled directory block, filling in
// a checksum tail when the filesystem was created with metadata_csum.
type appenderFunc func(b []byte) []byte

// directoryChecksumAppender returns an appenderFunc that overwrites the last
// 12 bytes of the block with a struct ext4_dir_entry_tail pseudo-entry
// holding a CRC32c of the block, seeded from the filesystem checksum seed,
// the directory's inode number and generation.
func directoryChecksumAppender(checksumSeed, dirInode, generation uint32) appenderFunc {
	return func(b []byte) []byte {
		if len(b) < direntTailSize {
			return b
		}
		tail := b[len(b)-direntTailSize:]
		binary.LittleEndian.PutUint32(tail[0:], 0)
		binary.LittleEndian.PutUint16(tail[4:], direntTailSize)
		tail[6] = 0
		tail[7] = uint8(dirFileTypeChecksum)
		binary.LittleEndian.PutUint32(tail[8:], 0)

		inodeBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(inodeBuf, dirInode)
		genBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(genBuf, generation)

		sum := crc.CRC32c(checksumSeed, inodeBuf)
		sum = crc.CRC32c(sum, genBuf)
		sum = crc.CRC32c(sum, b[:len(b)-4])
		binary.LittleEndian.PutUint32(tail[8:], sum)
		return b
	}
}

// parseDirEntriesLinear walks a classic (non-htree) directory block list,
// following rec_len chains, skipping zero-inode (deleted) entries and the
// trailing checksum pseudo-entry when metadata_csum is enabled.
func parseDirEntriesLinear(b []byte, metadataChecksums bool, blockSize uint32, dirInode uint32, generation uint32, checksumSeed uint32) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	bs := int(blockSize)
	for blockStart := 0; blockStart+bs <= len(b); blockStart += bs {
		block := b[blockStart : blockStart+bs]
		limit := bs
		if metadataChecksums {
			limit -= direntTailSize
		}
		pos := 0
		for pos+direntHeaderSize <= limit {
			inodeNum := binary.LittleEndian.Uint32(block[pos:])
			recLen := binary.LittleEndian.Uint16(block[pos+4:])
			nameLen := int(block[pos+6])
			fileType := dirFileType(block[pos+7])
			if recLen < direntHeaderSize {
				return nil, fmt.Errorf("corrupt directory entry at block offset %d: rec_len %d too small", pos, recLen)
			}
			if inodeNum != 0 && nameLen > 0 {
				nameEnd := pos + direntHeaderSize + nameLen
				if nameEnd > len(block) {
					return nil, fmt.Errorf("corrupt directory entry at block offset %d: name overruns block", pos)
				}
				name := string(block[pos+direntHeaderSize : nameEnd])
				entries = append(entries, &directoryEntry{
					inode:    inodeNum,
					filename: name,
					fileType: fileType,
				})
			}
			pos += int(recLen)
		}
	}
	return entries, nil
}

// Directory.toBytes (directory.go) calls this to serialize entries back into the
// linear layout, one directory block at a time (entries are not currently
// split across multiple blocks by this package, matching how mkDirEntry
// allocates a single-block directory).
func direntryToBytes(entries []*directoryEntry, blockSize uint32) []byte {
	b := make([]byte, blockSize)
	pos := 0
	for i, e := range entries {
		recLen := e.recLen()
		// the last entry absorbs all remaining space in the block
		if i == len(entries)-1 {
			recLen = uint16(int(blockSize) - pos)
		}
		binary.LittleEndian.PutUint32(b[pos:], e.inode)
		binary.LittleEndian.PutUint16(b[pos+4:], recLen)
		b[pos+6] = uint8(len(e.filename))
		b[pos+7] = uint8(e.fileType)
		copy(b[pos+direntHeaderSize:], e.filename)
		pos += int(recLen)
	}
	return b
}

// directoryEntryInfo adapts a directoryEntry plus its resolved inode to the
// standard library's fs.DirEntry and fs.FileInfo interfaces, used by
// FileSystem.ReadDir.
type directoryEntryInfo struct {
	inode          *inode
	directoryEntry *directoryEntry
}

var (
	_ fs.DirEntry  = (*directoryEntryInfo)(nil)
	_ fs.FileInfo  = (*directoryEntryInfo)(nil)
)

func (d *directoryEntryInfo) Name() string { return d.directoryEntry.filename }

func (d *directoryEntryInfo) IsDir() bool {
	return d.directoryEntry.fileType == dirFileTypeDirectory
}

func (d *directoryEntryInfo) Type() fs.FileMode {
	return d.inode.permissionsToMode().Type()
}

func (d *directoryEntryInfo) Info() (fs.FileInfo, error) {
	return d, nil
}

func (d *directoryEntryInfo) Size() int64 { return int64(d.inode.size) }

func (d *directoryEntryInfo) Mode() fs.FileMode { return d.inode.permissionsToMode() }

func (d *directoryEntryInfo) ModTime() time.Time { return d.inode.modifyTime }

func (d *directoryEntryInfo) Sys() any {
	return &StatT{UID: d.inode.owner, GID: d.inode.group}
}

// StatT carries the ext4-specific stat fields (owner and group) reachable
// through fs.FileInfo.Sys(), mirroring the shape other diskfs filesystem
// packages expose for their own Sys() values.
type StatT struct {
	UID uint32
	GID uint32
}

// FileInfo is the iofs.FileInfo returned by FileSystem.Stat.
type FileInfo struct {
	modTime time.Time
	name    string
	size    int64
	isDir   bool
	mode    fs.FileMode
	sys     *StatT
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *FileInfo) IsDir() bool        { return fi.isDir }
func (fi *FileInfo) Sys() any           { return fi.sys }

var _ fs.FileInfo = (*FileInfo)(nil)
