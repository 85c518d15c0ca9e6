// Package hash implements the fingerprint accumulator shared by direct mode
// and preprocessor mode. It produces an opaque, deterministic 128-bit digest
// from an ordered sequence of delimited fields.
package hash

import (
	"github.com/cespare/xxhash/v2"
)

// secondLaneSeed decorrelates the two lanes of the digest; it has no meaning
// beyond being a fixed, non-zero constant.
const secondLaneSeed = 0x9E3779B97F4A7C15

// Hasher accumulates bytes into two independent xxhash64 lanes and tracks
// the total number of bytes fed to it, which becomes the size half of a
// FileHash.
type Hasher struct {
	lane0 *xxhash.Digest
	lane1 *xxhash.Digest
	total uint32
}

func New() *Hasher {
	h := &Hasher{
		lane0: xxhash.New(),
		lane1: xxhash.New(),
	}
	_, _ = h.lane1.WriteString(string([]byte{
		byte(secondLaneSeed >> 56), byte(secondLaneSeed >> 48 & 0xff),
		byte(secondLaneSeed >> 40 & 0xff), byte(secondLaneSeed >> 32 & 0xff),
		byte(secondLaneSeed >> 24 & 0xff), byte(secondLaneSeed >> 16 & 0xff),
		byte(secondLaneSeed >> 8 & 0xff), byte(secondLaneSeed & 0xff),
	}))
	return h
}

// Update mixes raw bytes into both lanes and advances the byte counter.
func (h *Hasher) Update(p []byte) {
	_, _ = h.lane0.Write(p)
	_, _ = h.lane1.Write(p)
	h.total += uint32(len(p))
}

// Write implements io.Writer so a Hasher can be the destination of io.Copy.
func (h *Hasher) Write(p []byte) (int, error) {
	h.Update(p)
	return len(p), nil
}

func (h *Hasher) UpdateString(s string) {
	_, _ = h.lane0.WriteString(s)
	_, _ = h.lane1.WriteString(s)
	h.total += uint32(len(s))
}

// Delimiter mixes in a zero byte, the label, and another zero byte, so that
// the concatenation of two fields can never collide with a different split
// of the same bytes across those fields.
func (h *Hasher) Delimiter(label string) {
	h.Update([]byte{0})
	h.UpdateString(label)
	h.Update([]byte{0})
}

// Finalize returns the accumulated digest. The Hasher must not be reused
// afterwards.
func (h *Hasher) Finalize() FileHash {
	sum0 := h.lane0.Sum64()
	sum1 := h.lane1.Sum64()

	var digest [16]byte
	putUint64(digest[0:8], sum0)
	putUint64(digest[8:16], sum1)

	return FileHash{Digest: digest, Size: h.total}
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}
