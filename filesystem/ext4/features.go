package ext4

// featureFlags tracks the compat/incompat/ro_compat feature bits that control how
// the rest of the package interprets the on-disk structures. Only the flags that
// this package actually reads or writes are broken out as named booleans; bits
// that e2fsprogs defines but that this implementation ignores are dropped on
// write and never set by defaultFeatureFlags.
type featureFlags struct {
	// compat
	dirPrealloc      bool
	imagicInodes     bool
	hasJournal       bool
	extAttr          bool
	reservedGDTBlocksForExpansion bool
	dirIndex         bool
	sparseSuper2     bool

	// incompat
	compression     bool
	filetype        bool
	needsRecovery   bool
	separateJournalDevice bool
	metaBlockGroups bool
	extents         bool
	fs64Bit         bool
	multipleMountProtection bool
	flexBlockGroups bool
	inlineData      bool
	largeDirectory  bool
	metadataChecksumSeed bool

	// ro_compat
	sparseSuper     bool
	largeFile       bool
	hugeFile        bool
	gdtChecksum     bool
	dirNlink        bool
	extraIsize      bool
	quota           bool
	bigalloc        bool
	metadataChecksums bool
	replica         bool
	readOnly        bool
	projectQuotas   bool
	verity          bool
}

// defaultFeatureFlags is the baseline feature set used when creating a new
// filesystem if no FeatureOpt overrides it. It mirrors the feature set that
// mke2fs uses for its "ext4" filesystem type.
var defaultFeatureFlags = featureFlags{
	dirPrealloc:   false,
	hasJournal:    true,
	extAttr:       true,
	dirIndex:      true,
	filetype:      true,
	extents:       true,
	fs64Bit:       false,
	flexBlockGroups: true,
	sparseSuper:   true,
	largeFile:     true,
	hugeFile:      true,
	dirNlink:      true,
	extraIsize:    true,
	metadataChecksums: false,
}

// FeatureOpt mutates a featureFlags struct, used when creating a new filesystem
// via Create to enable or disable specific ext4 features.
type FeatureOpt func(*featureFlags)

// WithFeatureHasJournal enables or disables the internal journal. Note that
// this package never replays or writes to the journal; see initJournal.
func WithFeatureHasJournal(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.hasJournal = enabled }
}

// WithFeatureExtAttr enables or disables extended attribute support in inodes.
func WithFeatureExtAttr(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.extAttr = enabled }
}

// WithFeatureDirIndex enables or disables hashed (htree) directory indexes.
func WithFeatureDirIndex(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.dirIndex = enabled }
}

// WithFeature64Bit enables or disables the 64-bit feature, which widens group
// descriptors to 64 bytes and permits block/inode counts beyond 32 bits.
func WithFeature64Bit(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.fs64Bit = enabled }
}

// WithFeatureFlexBlockGroups enables or disables flexible block groups, which
// pack the bitmaps and inode tables of several block groups together.
func WithFeatureFlexBlockGroups(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.flexBlockGroups = enabled }
}

// WithFeatureMetadataChecksums enables or disables metadata_csum, which
// replaces the legacy GDT checksum with a CRC32c covering more structures.
func WithFeatureMetadataChecksums(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.metadataChecksums = enabled }
}

// WithFeatureLargeDir enables or disables large directory support (3-level
// htrees and directory blocks described as extents rather than blocks).
func WithFeatureLargeDir(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.largeDirectory = enabled }
}

// WithFeatureProjectQuotas enables or disables the reserved project quota inode.
func WithFeatureProjectQuotas(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.projectQuotas = enabled }
}

// WithFeatureReservedGDTBlocksForExpansion reserves extra GDT blocks so the
// filesystem can later be grown with resize2fs. Online resize itself is not
// implemented by this package.
func WithFeatureReservedGDTBlocksForExpansion(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.reservedGDTBlocksForExpansion = enabled }
}

// WithFeatureSeparateJournalDevice marks the journal as living on an external
// device rather than as an in-filesystem inode.
func WithFeatureSeparateJournalDevice(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.separateJournalDevice = enabled }
}

// miscFlags holds the superblock's "misc flags" field (signed hash, unsigned
// hash, and test filesystem markers).
type miscFlags struct {
	signedDirectoryHash   bool
	unsignedDirectoryHash bool
	testFilesystem        bool
}

var defaultMiscFlags = miscFlags{
	unsignedDirectoryHash: true,
}

// mountOptions tracks the default mount options recorded in the superblock.
// These are advisory only: this package always mounts as though they applied,
// since there is no outer mount driver to enforce them.
type mountOptions struct {
	printDebugInfo          bool
	newFilesGroupID         bool
	userspaceExtendedAttributes bool
	posixACLs               bool
	uid16Bit                 bool
	journalDataMode          journalDataMode
	noBarrier                bool
	blockValidity            bool
	discard                  bool
	disableDelayedAllocation bool
}

type journalDataMode uint8

const (
	journalDataModeJournal journalDataMode = iota
	journalDataModeOrdered
	journalDataModeWriteback
)

// MountOpt mutates the default mount options recorded for a newly created
// filesystem.
type MountOpt func(*mountOptions)

// WithMountOptUserXattr records user_xattr as a default mount option.
func WithMountOptUserXattr(enabled bool) MountOpt {
	return func(m *mountOptions) { m.userspaceExtendedAttributes = enabled }
}

// WithMountOptACL records acl as a default mount option.
func WithMountOptACL(enabled bool) MountOpt {
	return func(m *mountOptions) { m.posixACLs = enabled }
}

func defaultMountOptionsFromOpts(opts []MountOpt) *mountOptions {
	m := mountOptions{
		userspaceExtendedAttributes: true,
		posixACLs:                   true,
	}
	for _, o := range opts {
		o(&m)
	}
	return &m
}
