package ext4

import "github.com/diskfs/go-diskfs/filesystem/ext4/md4"

// hashVersion selects the algorithm used to compute a directory entry's
// htree hash, stored in the superblock's s_def_hash_version and (per
// directory) in the hash-tree root.
type hashVersion uint8

const (
	HashVersionLegacy          hashVersion = 0
	HashVersionHalfMD4         hashVersion = 1
	HashVersionTEA             hashVersion = 2
	HashVersionLegacyUnsigned  hashVersion = 3
	HashVersionHalfMD4Unsigned hashVersion = 4
	HashVersionTEAUnsigned     hashVersion = 5
	HashVersionSIP             hashVersion = 6
)

// hashHalfMD4 is the version this package picks when creating new
// filesystems; it is the default e2fsprogs also uses.
const hashHalfMD4 = HashVersionHalfMD4

const teaDelta uint32 = 0x9E3779B9

// TEATransform runs 16 rounds of the Tiny Encryption Algorithm's core mixing
// step over buf, seeded with 4 words of input, as used by ext4's TEA-based
// directory hash.
func TEATransform(buf [4]uint32, in []uint32) [4]uint32 {
	var sum uint32
	b0, b1 := buf[0], buf[1]
	a, b, c, d := in[0], in[1], in[2], in[3]

	for n := 0; n < 16; n++ {
		sum += teaDelta
		b0 += ((b1 << 4) + a) ^ (b1 + sum) ^ ((b1 >> 5) + b)
		b1 += ((b0 << 4) + c) ^ (b0 + sum) ^ ((b0 >> 5) + d)
	}

	buf[0] += b0
	buf[1] += b1
	return buf
}

// str2hashbuf packs up to num*4 bytes of msg into num 32-bit words, padding
// any remainder (and any words beyond what msg supplies) with a repeated
// length marker, the same convention fs/ext4/hash.c uses to feed names into
// HalfMD4Transform and TEATransform. The returned slice always has length 8,
// matching the largest buffer any caller needs; words at index num and above
// are zero.
func str2hashbuf(msg string, num int, signed bool) []uint32 {
	var buf [8]uint32
	length := len(msg)

	pad := uint32(length) | uint32(length)<<8
	pad |= pad << 16
	val := pad

	max := length
	if max > num*4 {
		max = num * 4
	}

	idx := 0
	n := num
	for i := 0; i < max; i++ {
		if i%4 == 0 {
			val = pad
		}
		var v int32
		if signed {
			v = int32(int8(msg[i]))
		} else {
			v = int32(msg[i])
		}
		val = uint32(v) + (val << 8)
		if i%4 == 3 {
			buf[idx] = val
			idx++
			val = pad
			n--
		}
	}
	n--
	if n >= 0 {
		buf[idx] = val
		idx++
	}
	for n > 0 {
		n--
		buf[idx] = pad
		idx++
	}

	return buf[:]
}

// dxHackHash implements the legacy ext2/ext3 directory hash, dx_hack_hash in
// the kernel: a simple rolling multiply-and-fold over the raw (signed or
// unsigned) bytes of the name. The result always has its lowest bit clear,
// since the htree code reserves that bit.
func dxHackHash(input string, signed bool) uint32 {
	var hash0 uint32 = 0x12a3fe2d
	var hash1 uint32 = 0x37abe8f9

	for i := 0; i < len(input); i++ {
		var v uint32
		if signed {
			v = uint32(int32(int8(input[i])))
		} else {
			v = uint32(input[i])
		}
		hash := hash1 + (hash0 ^ (v * 7152373))
		if hash&0x80000000 != 0 {
			hash -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = hash
	}

	return hash0 << 1
}

// ext4fsDirhash computes the (major, minor) htree hash pair for name under
// the requested algorithm, seeded from the per-filesystem hash seed
// (s_hash_seed); an all-zero seed falls back to the standard MD4 initial
// state. Unknown or unimplemented (SIP) versions return (0, 0) rather than
// an error, mirroring the kernel's tolerant behavior for reading directories
// created with a hash version it doesn't recognize.
func ext4fsDirhash(name string, version hashVersion, seed []uint32) (hash, minor uint32) {
	buf := [4]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}
	for _, s := range seed {
		if s != 0 {
			for i := 0; i < 4 && i < len(seed); i++ {
				buf[i] = seed[i]
			}
			break
		}
	}

	switch version {
	case HashVersionLegacyUnsigned:
		hash = dxHackHash(name, false)
	case HashVersionLegacy:
		hash = dxHackHash(name, true)
	case HashVersionHalfMD4, HashVersionHalfMD4Unsigned:
		signed := version == HashVersionHalfMD4
		remaining := len(name)
		pos := 0
		for {
			in := str2hashbuf(name[pos:], 8, signed)
			buf = md4.HalfMD4Transform(buf, in)
			remaining -= 32
			pos += 32
			if remaining <= 0 {
				break
			}
		}
		hash = buf[1]
		minor = buf[2]
	case HashVersionTEA, HashVersionTEAUnsigned:
		signed := version == HashVersionTEA
		remaining := len(name)
		pos := 0
		for {
			in := str2hashbuf(name[pos:], 4, signed)
			buf = TEATransform(buf, in)
			remaining -= 16
			pos += 16
			if remaining <= 0 {
				break
			}
		}
		hash = buf[0]
		minor = buf[1]
	default:
		return 0, 0
	}

	hash &^= 1
	return hash, minor
}
