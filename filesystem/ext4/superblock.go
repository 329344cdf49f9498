package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/diskfs/go-diskfs/filesystem/ext4/crc"
	"github.com/google/uuid"
)

const (
	superblockMagic    uint16 = 0xef53
	superblockSizeRaw  int    = 1024
	groupDescriptorSize       uint16 = 32
	groupDescriptorSize64Bit  uint16 = 64
)

type fsState uint16

const (
	fsStateCleanlyUnmounted fsState = 0x0001
	fsStateErrors           fsState = 0x0002
)

type errorBehaviour uint16

const (
	errorsContinue     errorBehaviour = 1
	errorsRemountReadOnly errorBehaviour = 2
	errorsPanic        errorBehaviour = 3
)

type creatorOS uint32

const (
	osLinux   creatorOS = 0
	osHurd    creatorOS = 1
	osMasix   creatorOS = 2
	osFreeBSD creatorOS = 3
	osLites   creatorOS = 4
)

// gdtChecksumType describes which checksum algorithm protects the group
// descriptor table: none, the legacy crc16 "uninit_bg" style, or metadata_csum.
type gdtChecksumType uint8

const (
	gdtChecksumNone     gdtChecksumType = iota
	gdtChecksumGdtCsum                  // uninit_bg / gdt_csum (crc16)
	gdtChecksumMetadata                 // metadata_csum (crc32c)
)

// superblock is the in-memory representation of the ext4 superblock, the
// first 1024 bytes of useful data on the filesystem (itself preceded by a
// 1024-byte boot sector). It is always present at the start of block group 0
// and, for the sparse_super feature, backed up in several later groups.
type superblock struct {
	inodeCount                   uint32
	blockCount                   uint64
	reservedBlocks                uint64
	freeBlocks                    uint64
	freeInodes                    uint32
	firstDataBlock                uint32
	blockSize                     uint32
	clusterSize                   uint64
	blocksPerGroup                uint32
	clustersPerGroup               uint32
	inodesPerGroup                 uint32
	mountTime                      time.Time
	writeTime                      time.Time
	mountCount                     uint16
	mountsToFsck                   uint16
	filesystemState                fsState
	errorBehaviour                  errorBehaviour
	minorRevision                   uint16
	lastCheck                       time.Time
	checkInterval                   uint32
	creatorOS                       creatorOS
	revisionLevel                   uint32
	reservedBlocksDefaultUID         uint16
	reservedBlocksDefaultGID         uint16
	firstNonReservedInode            uint32
	inodeSize                        uint16
	blockGroup                       uint16
	features                         featureFlags
	uuid                             *uuid.UUID
	volumeLabel                      string
	lastMountedDirectory             string
	algorithmUsageBitmap             uint32
	preallocationBlocks              uint8
	preallocationDirectoryBlocks     uint8
	reservedGDTBlocks                uint16
	journalSuperblockUUID            *uuid.UUID
	journalInode                     uint32
	journalDeviceNumber               uint32
	orphanedInodesStart                uint32
	hashTreeSeed                       []uint32
	hashVersion                        hashVersion
	groupDescriptorSize                uint16
	defaultMountOptions                mountOptions
	firstMetablockGroup                 uint32
	mkfsTime                            time.Time
	journalBackup                       []uint32
	inodeMinBytes                        uint16
	inodeReserveBytes                    uint16
	miscFlags                            miscFlags
	raidStride                           uint16
	multiMountPreventionInterval           uint16
	multiMountProtectionBlock              uint64
	raidStripeWidth                         uint32
	logGroupsPerFlex                        uint64
	checksumType                            uint8
	totalKBWritten                          uint64
	errorCount                              uint32
	errorFirstTime                          time.Time
	errorFirstInode                         uint32
	errorFirstBlock                          uint64
	errorFirstFunction                       string
	errorFirstLine                           uint32
	errorLastTime                            time.Time
	errorLastInode                           uint32
	errorLastLine                            uint32
	errorLastBlock                           uint64
	errorLastFunction                        string
	mountOptions                             string
	backupSuperblockBlockGroups              [2]uint32
	lostFoundInode                           uint32
	overheadBlocks                           uint32
	checksumSeed                             uint32
	snapshotInodeNumber                      uint32
	snapshotID                               uint32
	snapshotReservedBlocks                   uint64
	snapshotStartInode                       uint32
	userQuotaInode                           uint32
	groupQuotaInode                          uint32
	projectQuotaInode                        uint32
}

// blockGroupCount returns the number of block groups described by this
// superblock, rounding up for a partial final group.
func (sb *superblock) blockGroupCount() uint64 {
	if sb.blocksPerGroup == 0 {
		return 0
	}
	return (sb.blockCount + uint64(sb.blocksPerGroup) - 1) / uint64(sb.blocksPerGroup)
}

// gdtChecksumType reports which checksum scheme protects this filesystem's
// group descriptor table, derived from the ro_compat feature bits.
func (sb *superblock) gdtChecksumType() gdtChecksumType {
	switch {
	case sb.features.metadataChecksums:
		return gdtChecksumMetadata
	case sb.features.gdtChecksum:
		return gdtChecksumGdtCsum
	default:
		return gdtChecksumNone
	}
}

func (sb *superblock) equal(other *superblock) bool {
	if sb == nil || other == nil {
		return sb == other
	}
	return sb.inodeCount == other.inodeCount &&
		sb.blockCount == other.blockCount &&
		sb.freeBlocks == other.freeBlocks &&
		sb.freeInodes == other.freeInodes &&
		sb.blockSize == other.blockSize &&
		sb.blocksPerGroup == other.blocksPerGroup &&
		sb.inodesPerGroup == other.inodesPerGroup &&
		sb.volumeLabel == other.volumeLabel &&
		sb.inodeSize == other.inodeSize &&
		sb.groupDescriptorSize == other.groupDescriptorSize
}

// packFeatureCompat/Incompat/RoCompat encode the subset of feature bits this
// package understands. Reading back an image with bits it does not
// understand in the incompat set would normally refuse to mount; this
// package is lenient and simply ignores bits it does not model.
func packFeatureCompat(f featureFlags) uint32 {
	var v uint32
	if f.dirPrealloc {
		v |= 0x0001
	}
	if f.imagicInodes {
		v |= 0x0002
	}
	if f.hasJournal {
		v |= 0x0004
	}
	if f.extAttr {
		v |= 0x0008
	}
	if f.reservedGDTBlocksForExpansion {
		v |= 0x0010
	}
	if f.dirIndex {
		v |= 0x0020
	}
	if f.sparseSuper2 {
		v |= 0x0200
	}
	return v
}

func unpackFeatureCompat(v uint32, f *featureFlags) {
	f.dirPrealloc = v&0x0001 != 0
	f.imagicInodes = v&0x0002 != 0
	f.hasJournal = v&0x0004 != 0
	f.extAttr = v&0x0008 != 0
	f.reservedGDTBlocksForExpansion = v&0x0010 != 0
	f.dirIndex = v&0x0020 != 0
	f.sparseSuper2 = v&0x0200 != 0
}

func packFeatureIncompat(f featureFlags) uint32 {
	var v uint32
	if f.compression {
		v |= 0x0001
	}
	if f.filetype {
		v |= 0x0002
	}
	if f.needsRecovery {
		v |= 0x0004
	}
	if f.separateJournalDevice {
		v |= 0x0008
	}
	if f.metaBlockGroups {
		v |= 0x0010
	}
	if f.extents {
		v |= 0x0040
	}
	if f.fs64Bit {
		v |= 0x0080
	}
	if f.multipleMountProtection {
		v |= 0x0100
	}
	if f.flexBlockGroups {
		v |= 0x0200
	}
	if f.inlineData {
		v |= 0x8000
	}
	if f.largeDirectory {
		v |= 0x4000
	}
	if f.metadataChecksumSeed {
		v |= 0x2000
	}
	return v
}

func unpackFeatureIncompat(v uint32, f *featureFlags) {
	f.compression = v&0x0001 != 0
	f.filetype = v&0x0002 != 0
	f.needsRecovery = v&0x0004 != 0
	f.separateJournalDevice = v&0x0008 != 0
	f.metaBlockGroups = v&0x0010 != 0
	f.extents = v&0x0040 != 0
	f.fs64Bit = v&0x0080 != 0
	f.multipleMountProtection = v&0x0100 != 0
	f.flexBlockGroups = v&0x0200 != 0
	f.largeDirectory = v&0x4000 != 0
	f.inlineData = v&0x8000 != 0
	f.metadataChecksumSeed = v&0x2000 != 0
}

func packFeatureRoCompat(f featureFlags) uint32 {
	var v uint32
	if f.sparseSuper {
		v |= 0x0001
	}
	if f.largeFile {
		v |= 0x0002
	}
	if f.hugeFile {
		v |= 0x0008
	}
	if f.gdtChecksum {
		v |= 0x0010
	}
	if f.dirNlink {
		v |= 0x0020
	}
	if f.extraIsize {
		v |= 0x0040
	}
	if f.quota {
		v |= 0x0100
	}
	if f.bigalloc {
		v |= 0x0200
	}
	if f.metadataChecksums {
		v |= 0x0400
	}
	if f.replica {
		v |= 0x0800
	}
	if f.readOnly {
		v |= 0x1000
	}
	if f.projectQuotas {
		v |= 0x2000
	}
	if f.verity {
		v |= 0x8000
	}
	return v
}

func unpackFeatureRoCompat(v uint32, f *featureFlags) {
	f.sparseSuper = v&0x0001 != 0
	f.largeFile = v&0x0002 != 0
	f.hugeFile = v&0x0008 != 0
	f.gdtChecksum = v&0x0010 != 0
	f.dirNlink = v&0x0020 != 0
	f.extraIsize = v&0x0040 != 0
	f.quota = v&0x0100 != 0
	f.bigalloc = v&0x0200 != 0
	f.metadataChecksums = v&0x0400 != 0
	f.replica = v&0x0800 != 0
	f.readOnly = v&0x1000 != 0
	f.projectQuotas = v&0x2000 != 0
	f.verity = v&0x8000 != 0
}

func packMountOpts(m mountOptions) uint32 {
	var v uint32
	if m.userspaceExtendedAttributes {
		v |= 0x0004
	}
	if m.posixACLs {
		v |= 0x0008
	}
	if m.noBarrier {
		v |= 0x0100
	}
	if m.blockValidity {
		v |= 0x0200
	}
	if m.discard {
		v |= 0x0400
	}
	v |= uint32(m.journalDataMode) << 16
	return v
}

func unpackMountOpts(v uint32, m *mountOptions) {
	m.userspaceExtendedAttributes = v&0x0004 != 0
	m.posixACLs = v&0x0008 != 0
	m.noBarrier = v&0x0100 != 0
	m.blockValidity = v&0x0200 != 0
	m.discard = v&0x0400 != 0
	m.journalDataMode = journalDataMode((v >> 16) & 0x3)
}

func packMiscFlags(m miscFlags) uint16 {
	var v uint16
	if m.signedDirectoryHash {
		v |= 0x0001
	}
	if m.unsignedDirectoryHash {
		v |= 0x0002
	}
	if m.testFilesystem {
		v |= 0x0004
	}
	return v
}

func unpackMiscFlags(v uint16) miscFlags {
	return miscFlags{
		signedDirectoryHash:   v&0x0001 != 0,
		unsignedDirectoryHash: v&0x0002 != 0,
		testFilesystem:        v&0x0004 != 0,
	}
}

func writeFixedString(b []byte, s string) {
	copy(b, s)
	for i := len(s); i < len(b); i++ {
		b[i] = 0
	}
}

func readFixedString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// toBytes serializes the superblock into its on-disk 1024-byte layout,
// computing the final checksum if metadata_csum is enabled.
func (sb *superblock) toBytes() []byte {
	b := make([]byte, superblockSizeRaw)
	le := binary.LittleEndian

	le.PutUint32(b[0x00:], sb.inodeCount)
	le.PutUint32(b[0x04:], uint32(sb.blockCount))
	le.PutUint32(b[0x08:], uint32(sb.reservedBlocks))
	le.PutUint32(b[0x0C:], uint32(sb.freeBlocks))
	le.PutUint32(b[0x10:], sb.freeInodes)
	le.PutUint32(b[0x14:], sb.firstDataBlock)

	logBlockSize := uint32(0)
	for v := sb.blockSize >> 10; v > 1; v >>= 1 {
		logBlockSize++
	}
	le.PutUint32(b[0x18:], logBlockSize)

	logClusterSize := logBlockSize
	le.PutUint32(b[0x1C:], logClusterSize)

	le.PutUint32(b[0x20:], sb.blocksPerGroup)
	le.PutUint32(b[0x24:], sb.clustersPerGroup)
	le.PutUint32(b[0x28:], sb.inodesPerGroup)
	le.PutUint32(b[0x2C:], uint32(sb.mountTime.Unix()))
	le.PutUint32(b[0x30:], uint32(sb.writeTime.Unix()))
	le.PutUint16(b[0x34:], sb.mountCount)
	le.PutUint16(b[0x36:], sb.mountsToFsck)
	le.PutUint16(b[0x38:], superblockMagic)
	le.PutUint16(b[0x3A:], uint16(sb.filesystemState))
	le.PutUint16(b[0x3C:], uint16(sb.errorBehaviour))
	le.PutUint16(b[0x3E:], sb.minorRevision)
	le.PutUint32(b[0x40:], uint32(sb.lastCheck.Unix()))
	le.PutUint32(b[0x44:], sb.checkInterval)
	le.PutUint32(b[0x48:], uint32(sb.creatorOS))
	le.PutUint32(b[0x4C:], sb.revisionLevel)
	le.PutUint16(b[0x50:], sb.reservedBlocksDefaultUID)
	le.PutUint16(b[0x52:], sb.reservedBlocksDefaultGID)

	le.PutUint32(b[0x54:], sb.firstNonReservedInode)
	le.PutUint16(b[0x58:], sb.inodeSize)
	le.PutUint16(b[0x5A:], sb.blockGroup)
	le.PutUint32(b[0x5C:], packFeatureCompat(sb.features))
	le.PutUint32(b[0x60:], packFeatureIncompat(sb.features))
	le.PutUint32(b[0x64:], packFeatureRoCompat(sb.features))
	if sb.uuid != nil {
		copy(b[0x68:0x78], sb.uuid[:])
	}
	writeFixedString(b[0x78:0x88], sb.volumeLabel)
	writeFixedString(b[0x88:0xC8], sb.lastMountedDirectory)
	le.PutUint32(b[0xC8:], sb.algorithmUsageBitmap)
	b[0xCC] = sb.preallocationBlocks
	b[0xCD] = sb.preallocationDirectoryBlocks
	le.PutUint16(b[0xCE:], sb.reservedGDTBlocks)
	if sb.journalSuperblockUUID != nil {
		copy(b[0xD0:0xE0], sb.journalSuperblockUUID[:])
	}
	le.PutUint32(b[0xE0:], sb.journalInode)
	le.PutUint32(b[0xE4:], sb.journalDeviceNumber)
	le.PutUint32(b[0xE8:], sb.orphanedInodesStart)
	for i := 0; i < 4 && i < len(sb.hashTreeSeed); i++ {
		le.PutUint32(b[0xEC+i*4:], sb.hashTreeSeed[i])
	}
	b[0xFC] = uint8(sb.hashVersion)
	if len(sb.journalBackup) > 0 {
		b[0xFD] = 1
	}
	le.PutUint16(b[0xFE:], sb.groupDescriptorSize)
	le.PutUint32(b[0x100:], packMountOpts(sb.defaultMountOptions))
	le.PutUint32(b[0x104:], sb.firstMetablockGroup)
	le.PutUint32(b[0x108:], uint32(sb.mkfsTime.Unix()))
	for i := 0; i < 17 && i < len(sb.journalBackup); i++ {
		le.PutUint32(b[0x10C+i*4:], sb.journalBackup[i])
	}

	le.PutUint32(b[0x150:], uint32(sb.blockCount>>32))
	le.PutUint32(b[0x154:], uint32(sb.reservedBlocks>>32))
	le.PutUint32(b[0x158:], uint32(sb.freeBlocks>>32))
	le.PutUint16(b[0x15C:], sb.inodeMinBytes)
	le.PutUint16(b[0x15E:], sb.inodeReserveBytes)
	le.PutUint16(b[0x164:], sb.raidStride)
	le.PutUint16(b[0x166:], sb.multiMountPreventionInterval)
	le.PutUint64(b[0x168:], sb.multiMountProtectionBlock)
	le.PutUint32(b[0x170:], sb.raidStripeWidth)
	log2Flex := uint8(0)
	for v := sb.logGroupsPerFlex; v > 1; v >>= 1 {
		log2Flex++
	}
	b[0x174] = log2Flex
	b[0x175] = sb.checksumType
	le.PutUint64(b[0x178:], sb.totalKBWritten)
	le.PutUint32(b[0x180:], sb.snapshotInodeNumber)
	le.PutUint32(b[0x184:], sb.snapshotID)
	le.PutUint64(b[0x188:], sb.snapshotReservedBlocks)
	le.PutUint32(b[0x190:], sb.snapshotStartInode)
	le.PutUint32(b[0x194:], sb.errorCount)
	le.PutUint32(b[0x198:], uint32(sb.errorFirstTime.Unix()))
	le.PutUint32(b[0x19C:], sb.errorFirstInode)
	le.PutUint32(b[0x1A0:], uint32(sb.errorFirstBlock))
	writeFixedString(b[0x1A8:0x1C8], sb.errorFirstFunction)
	le.PutUint32(b[0x1C8:], sb.errorFirstLine)
	le.PutUint32(b[0x1CC:], uint32(sb.errorLastTime.Unix()))
	le.PutUint32(b[0x1D0:], sb.errorLastInode)
	le.PutUint32(b[0x1D4:], sb.errorLastLine)
	le.PutUint32(b[0x1D8:], uint32(sb.errorLastBlock))
	writeFixedString(b[0x1E0:0x200], sb.errorLastFunction)
	writeFixedString(b[0x200:0x240], sb.mountOptions)
	le.PutUint32(b[0x240:], sb.userQuotaInode)
	le.PutUint32(b[0x244:], sb.groupQuotaInode)
	le.PutUint32(b[0x248:], sb.overheadBlocks)
	le.PutUint32(b[0x24C:], sb.backupSuperblockBlockGroups[0])
	le.PutUint32(b[0x250:], sb.backupSuperblockBlockGroups[1])
	le.PutUint32(b[0x268:], sb.lostFoundInode)
	le.PutUint32(b[0x26C:], sb.projectQuotaInode)
	le.PutUint32(b[0x270:], sb.checksumSeed)
	le.PutUint16(b[0x27C:], packMiscFlags(sb.miscFlags))

	if sb.gdtChecksumType() == gdtChecksumMetadata {
		sum := crc.CRC32c(0xffffffff, b[:superblockSizeRaw-4])
		le.PutUint32(b[superblockSizeRaw-4:], sum)
	}

	return b
}

// superblockFromBytes parses a 1024-byte buffer into a superblock. It
// validates the ext4 magic number but is otherwise permissive about
// unrecognized feature bits.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSizeRaw {
		return nil, fmt.Errorf("superblock data too short: got %d bytes, need at least %d", len(b), superblockSizeRaw)
	}
	le := binary.LittleEndian
	if magic := le.Uint16(b[0x38:]); magic != superblockMagic {
		return nil, fmt.Errorf("invalid superblock magic %#x, expected %#x", magic, superblockMagic)
	}

	sb := &superblock{}
	sb.inodeCount = le.Uint32(b[0x00:])
	sb.blockCount = uint64(le.Uint32(b[0x04:]))
	sb.reservedBlocks = uint64(le.Uint32(b[0x08:]))
	sb.freeBlocks = uint64(le.Uint32(b[0x0C:]))
	sb.freeInodes = le.Uint32(b[0x10:])
	sb.firstDataBlock = le.Uint32(b[0x14:])
	sb.blockSize = 1024 << le.Uint32(b[0x18:])
	sb.blocksPerGroup = le.Uint32(b[0x20:])
	sb.clustersPerGroup = le.Uint32(b[0x24:])
	sb.inodesPerGroup = le.Uint32(b[0x28:])
	sb.mountTime = time.Unix(int64(le.Uint32(b[0x2C:])), 0).UTC()
	sb.writeTime = time.Unix(int64(le.Uint32(b[0x30:])), 0).UTC()
	sb.mountCount = le.Uint16(b[0x34:])
	sb.mountsToFsck = le.Uint16(b[0x36:])
	sb.filesystemState = fsState(le.Uint16(b[0x3A:]))
	sb.errorBehaviour = errorBehaviour(le.Uint16(b[0x3C:]))
	sb.minorRevision = le.Uint16(b[0x3E:])
	sb.lastCheck = time.Unix(int64(le.Uint32(b[0x40:])), 0).UTC()
	sb.checkInterval = le.Uint32(b[0x44:])
	sb.creatorOS = creatorOS(le.Uint32(b[0x48:]))
	sb.revisionLevel = le.Uint32(b[0x4C:])
	sb.reservedBlocksDefaultUID = le.Uint16(b[0x50:])
	sb.reservedBlocksDefaultGID = le.Uint16(b[0x52:])

	sb.firstNonReservedInode = le.Uint32(b[0x54:])
	sb.inodeSize = le.Uint16(b[0x58:])
	sb.blockGroup = le.Uint16(b[0x5A:])
	unpackFeatureCompat(le.Uint32(b[0x5C:]), &sb.features)
	unpackFeatureIncompat(le.Uint32(b[0x60:]), &sb.features)
	unpackFeatureRoCompat(le.Uint32(b[0x64:]), &sb.features)
	u, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, fmt.Errorf("invalid filesystem uuid: %w", err)
	}
	sb.uuid = &u
	sb.volumeLabel = readFixedString(b[0x78:0x88])
	sb.lastMountedDirectory = readFixedString(b[0x88:0xC8])
	sb.algorithmUsageBitmap = le.Uint32(b[0xC8:])
	sb.preallocationBlocks = b[0xCC]
	sb.preallocationDirectoryBlocks = b[0xCD]
	sb.reservedGDTBlocks = le.Uint16(b[0xCE:])
	if ju, err := uuid.FromBytes(b[0xD0:0xE0]); err == nil && ju != uuid.Nil {
		sb.journalSuperblockUUID = &ju
	}
	sb.journalInode = le.Uint32(b[0xE0:])
	sb.journalDeviceNumber = le.Uint32(b[0xE4:])
	sb.orphanedInodesStart = le.Uint32(b[0xE8:])
	sb.hashTreeSeed = make([]uint32, 4)
	for i := range sb.hashTreeSeed {
		sb.hashTreeSeed[i] = le.Uint32(b[0xEC+i*4:])
	}
	sb.hashVersion = hashVersion(b[0xFC])
	sb.groupDescriptorSize = le.Uint16(b[0xFE:])
	if sb.groupDescriptorSize == 0 {
		sb.groupDescriptorSize = groupDescriptorSize
	}
	unpackMountOpts(le.Uint32(b[0x100:]), &sb.defaultMountOptions)
	sb.firstMetablockGroup = le.Uint32(b[0x104:])
	sb.mkfsTime = time.Unix(int64(le.Uint32(b[0x108:])), 0).UTC()
	sb.journalBackup = make([]uint32, 17)
	for i := range sb.journalBackup {
		sb.journalBackup[i] = le.Uint32(b[0x10C+i*4:])
	}

	sb.blockCount |= uint64(le.Uint32(b[0x150:])) << 32
	sb.reservedBlocks |= uint64(le.Uint32(b[0x154:])) << 32
	sb.freeBlocks |= uint64(le.Uint32(b[0x158:])) << 32
	sb.clusterSize = uint64(sb.blockSize)
	sb.inodeMinBytes = le.Uint16(b[0x15C:])
	sb.inodeReserveBytes = le.Uint16(b[0x15E:])
	sb.raidStride = le.Uint16(b[0x164:])
	sb.multiMountPreventionInterval = le.Uint16(b[0x166:])
	sb.multiMountProtectionBlock = le.Uint64(b[0x168:])
	sb.raidStripeWidth = le.Uint32(b[0x170:])
	sb.logGroupsPerFlex = 1 << b[0x174]
	sb.checksumType = b[0x175]
	sb.totalKBWritten = le.Uint64(b[0x178:])
	sb.snapshotInodeNumber = le.Uint32(b[0x180:])
	sb.snapshotID = le.Uint32(b[0x184:])
	sb.snapshotReservedBlocks = le.Uint64(b[0x188:])
	sb.snapshotStartInode = le.Uint32(b[0x190:])
	sb.errorCount = le.Uint32(b[0x194:])
	sb.errorFirstTime = time.Unix(int64(le.Uint32(b[0x198:])), 0).UTC()
	sb.errorFirstInode = le.Uint32(b[0x19C:])
	sb.errorFirstBlock = uint64(le.Uint32(b[0x1A0:]))
	sb.errorFirstFunction = readFixedString(b[0x1A8:0x1C8])
	sb.errorFirstLine = le.Uint32(b[0x1C8:])
	sb.errorLastTime = time.Unix(int64(le.Uint32(b[0x1CC:])), 0).UTC()
	sb.errorLastInode = le.Uint32(b[0x1D0:])
	sb.errorLastLine = le.Uint32(b[0x1D4:])
	sb.errorLastBlock = uint64(le.Uint32(b[0x1D8:]))
	sb.errorLastFunction = readFixedString(b[0x1E0:0x200])
	sb.mountOptions = readFixedString(b[0x200:0x240])
	sb.userQuotaInode = le.Uint32(b[0x240:])
	sb.groupQuotaInode = le.Uint32(b[0x244:])
	sb.overheadBlocks = le.Uint32(b[0x248:])
	sb.backupSuperblockBlockGroups = [2]uint32{le.Uint32(b[0x24C:]), le.Uint32(b[0x250:])}
	sb.lostFoundInode = le.Uint32(b[0x268:])
	sb.projectQuotaInode = le.Uint32(b[0x26C:])
	sb.checksumSeed = le.Uint32(b[0x270:])
	sb.miscFlags = unpackMiscFlags(le.Uint16(b[0x27C:]))

	return sb, nil
}

// calculateBackupSuperblockGroups returns the block group numbers, beyond
// group 0, that hold a backup superblock and GDT copy under the classic
// sparse_super scheme: powers of 3, 5 and 7, plus group 1.
func calculateBackupSuperblockGroups(bgs int64) []int64 {
	if bgs <= 1 {
		return nil
	}
	var groups []int64
	if bgs > 1 {
		groups = append(groups, 1)
	}
	for _, base := range []int64{3, 5, 7} {
		for p := base; p < bgs; p *= base {
			groups = append(groups, p)
		}
	}
	sortInt64s(groups)
	return groups
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
