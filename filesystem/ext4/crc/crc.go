// Package crc provides the CRC32c (Castagnoli) checksum used throughout the
// ext4 on-disk format: superblock, group descriptors, bitmaps, inodes, and
// directory blocks when the metadata_csum feature is enabled.
package crc

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32c computes the CRC32c checksum of data, continuing from the given
// running checksum crc. Pass 0 (not ~0) as the initial value to match this
// package's callers, which seed the running value themselves where the
// on-disk format calls for ~0 (e.g. from the filesystem UUID).
func CRC32c(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoliTable, data)
}
