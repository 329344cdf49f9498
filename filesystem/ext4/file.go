package ext4

import (
	"errors"
	"fmt"
	"io"
)

// File represents a single open file in an ext4 filesystem. filename and
// fileType describe the directory entry that was used to open it; the
// inode itself carries no name, only the data extents and metadata.
type File struct {
	*inode
	filename    string
	fileType    dirFileType
	isReadWrite bool
	isAppend    bool
	offset      int64
	filesystem  *FileSystem
	extents     extents
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF
// reads from the last known offset in the file from last read or write
// use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	var (
		fileSize  = int64(fl.size)
		blocksize = uint64(fl.filesystem.superblock.blockSize)
	)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}

	// Calculate the number of bytes to read
	bytesToRead := int64(len(b))
	if fl.offset+bytesToRead > fileSize {
		bytesToRead = fileSize - fl.offset
	}

	// Create a buffer to hold the bytes to be read
	readBytes := int64(0)
	b = b[:bytesToRead]

	// the offset given for reading is relative to the file, so we need to calculate
	// where these are in the extents relative to the file
	readStartBlock := uint64(fl.offset) / blocksize
	for _, e := range fl.extents {
		// if the last block of the extent is before the first block we want to read, skip it
		if uint64(e.fileBlock)+uint64(e.count) < readStartBlock {
			continue
		}
		// extentSize is the number of bytes on the disk for the extent
		extentSize := int64(e.count) * int64(blocksize)
		// where do we start and end in the extent?
		startPositionInExtent := fl.offset - int64(e.fileBlock)*int64(blocksize)
		leftInExtent := extentSize - startPositionInExtent
		// how many bytes are left to read
		toReadInOffset := bytesToRead - readBytes
		if toReadInOffset > leftInExtent {
			toReadInOffset = leftInExtent
		}
		// a hole between the previous extent's end and this one reads as zeroes,
		// without ever touching the disk
		if startPositionInExtent < 0 {
			holeLen := -startPositionInExtent
			if holeLen > toReadInOffset {
				holeLen = toReadInOffset
			}
			readBytes += holeLen
			fl.offset += holeLen
			if readBytes >= bytesToRead {
				break
			}
			startPositionInExtent = 0
			toReadInOffset -= holeLen
			leftInExtent = extentSize
			if toReadInOffset > leftInExtent {
				toReadInOffset = leftInExtent
			}
			if toReadInOffset <= 0 {
				continue
			}
		}

		// read those bytes
		startPosOnDisk := e.startingBlock*blocksize + uint64(startPositionInExtent)
		b2 := make([]byte, toReadInOffset)
		read, err := fl.filesystem.backend.ReadAt(b2, int64(startPosOnDisk))
		if err != nil {
			return int(readBytes), fmt.Errorf("failed to read bytes: %v", err)
		}
		copy(b[readBytes:], b2[:read])
		readBytes += int64(read)
		fl.offset += int64(read)

		if readBytes >= bytesToRead {
			break
		}
	}
	var err error
	if fl.offset >= fileSize {
		err = io.EOF
	}

	return int(readBytes), err
}

// Write writes len(p) bytes to the File.
// It returns the number of bytes written and an error, if any.
// returns a non-nil error when n != len(p)
// writes to the last known offset in the file from last read or write
// use Seek() to set at a particular point
func (fl *File) Write(p []byte) (int, error) {
	if !fl.isReadWrite {
		return 0, errors.New("file is not open for writing")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if fl.isAppend {
		fl.offset = int64(fl.size)
	}

	blocksize := uint64(fl.filesystem.superblock.blockSize)
	endOffset := fl.offset + int64(len(p))

	if uint64(endOffset) > fl.size {
		newExtents, err := fl.filesystem.allocateExtents(uint64(endOffset), &fl.extents)
		if err != nil {
			return 0, fmt.Errorf("could not allocate space for write: %w", err)
		}
		if newExtents != nil {
			updated, _, err := extendExtentTree(fl.inode.extents, newExtents, fl.filesystem, nil)
			if err != nil {
				return 0, fmt.Errorf("could not extend extent tree: %w", err)
			}
			fl.inode.extents = updated
			merged, err := updated.blocks(fl.filesystem)
			if err != nil {
				return 0, fmt.Errorf("could not resolve extent tree blocks: %w", err)
			}
			fl.extents = merged
		}
		fl.size = uint64(endOffset)
		fl.blocks = fl.extents.blockCount() * blocksize / 512
	}

	writableFile, err := fl.filesystem.backend.Writable()
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		writeBlock := uint64(fl.offset) / blocksize
		var target *extent
		for i := range fl.extents {
			e := &fl.extents[i]
			if uint64(e.fileBlock) <= writeBlock && writeBlock < uint64(e.fileBlock)+uint64(e.count) {
				target = e
				break
			}
		}
		if target == nil {
			return written, fmt.Errorf("no extent covers file block %d after allocation", writeBlock)
		}
		positionInExtent := fl.offset - int64(target.fileBlock)*int64(blocksize)
		extentSize := int64(target.count) * int64(blocksize)
		toWrite := int64(len(p) - written)
		if remaining := extentSize - positionInExtent; toWrite > remaining {
			toWrite = remaining
		}
		startPosOnDisk := target.startingBlock*blocksize + uint64(positionInExtent)
		wrote, err := writableFile.WriteAt(p[written:written+int(toWrite)], int64(startPosOnDisk))
		if err != nil {
			return written, fmt.Errorf("failed to write bytes: %w", err)
		}
		written += wrote
		fl.offset += int64(wrote)
		if wrote < int(toWrite) {
			break
		}
	}

	if err := fl.filesystem.writeInode(fl.inode); err != nil {
		return written, fmt.Errorf("failed to update inode after write: %w", err)
	}

	if written != len(p) {
		return written, io.ErrShortWrite
	}
	return written, nil
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Close close a file that is being read
func (fl *File) Close() error {
	*fl = File{}
	return nil
}
