// Package md4 implements the "half MD4" transform used by ext4's htree
// directory hashing (fs/ext4/hash.c in the Linux kernel). It is not a
// general-purpose MD4 implementation: it runs only the first two rounds of
// the MD4 compression function, over 8 32-bit little-endian words at a time.
package md4

func rotateLeft(x uint32, s uint) uint32 {
	s &= 31
	return (x << s) | (x >> (32 - s))
}

func f(x, y, z uint32) uint32 {
	return z ^ (x & (y ^ z))
}

func g(x, y, z uint32) uint32 {
	return (x & y) | (x & z) | (y & z)
}

func h(x, y, z uint32) uint32 {
	return x ^ y ^ z
}

func round(fn func(x, y, z uint32) uint32, a, b, c, d, x uint32, s uint) uint32 {
	return rotateLeft(a+fn(b, c, d)+x, s)
}

const (
	k1 uint32 = 0
	k2 uint32 = 0x5A827999
)

// HalfMD4Transform runs the half-MD4 compression function over 8 32-bit
// words of input, folding the result into buf, and returns the updated
// state. Callers processing a name longer than 32 bytes feed the returned
// buf back in as the seed for the next 8-word chunk.
func HalfMD4Transform(buf [4]uint32, in []uint32) [4]uint32 {
	a, b, c, d := buf[0], buf[1], buf[2], buf[3]

	// round 1
	a = round(f, a, b, c, d, in[0]+k1, 3)
	d = round(f, d, a, b, c, in[1]+k1, 7)
	c = round(f, c, d, a, b, in[2]+k1, 11)
	b = round(f, b, c, d, a, in[3]+k1, 19)
	a = round(f, a, b, c, d, in[4]+k1, 3)
	d = round(f, d, a, b, c, in[5]+k1, 7)
	c = round(f, c, d, a, b, in[6]+k1, 11)
	b = round(f, b, c, d, a, in[7]+k1, 19)

	// round 2
	a = round(g, a, b, c, d, in[1]+k2, 3)
	d = round(g, d, a, b, c, in[3]+k2, 5)
	c = round(g, c, d, a, b, in[5]+k2, 9)
	b = round(g, b, c, d, a, in[7]+k2, 13)
	a = round(g, a, b, c, d, in[0]+k2, 3)
	d = round(g, d, a, b, c, in[2]+k2, 5)
	c = round(g, c, d, a, b, in[4]+k2, 9)
	b = round(g, b, c, d, a, in[6]+k2, 13)

	buf[0] += a
	buf[1] += b
	buf[2] += c
	buf[3] += d

	return buf
}

// h is not used by the two rounds above; this keeps it referenced so that
// it stays part of the package for completeness.
var _ = h
