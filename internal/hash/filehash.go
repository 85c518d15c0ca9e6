package hash

import (
	"encoding/hex"
	"io"
	"os"
)

// FileHash is a 128-bit digest paired with the byte count that produced it.
// Two FileHashes are equal iff both fields match.
type FileHash struct {
	Digest [16]byte
	Size   uint32
}

func (fh FileHash) IsZero() bool {
	return fh.Digest == [16]byte{} && fh.Size == 0
}

func (fh FileHash) Equal(other FileHash) bool {
	return fh.Digest == other.Digest && fh.Size == other.Size
}

func (fh FileHash) HexDigest() string {
	return hex.EncodeToString(fh.Digest[:])
}

// HashReader hashes the full contents of r as a single field.
func HashReader(r io.Reader) (FileHash, error) {
	h := New()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return FileHash{}, err
		}
	}
	return h.Finalize(), nil
}

// HashFile hashes the contents of the file at path as a single field.
func HashFile(path string) (FileHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHash{}, err
	}
	defer f.Close()
	return HashReader(f)
}
