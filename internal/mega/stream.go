package mega

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// ErrMacMismatch marks a fully-read stream whose computed MAC does not match
// the meta-MAC embedded in the node key. It is permanent: retrying the same
// ciphertext cannot fix it.
var ErrMacMismatch = errors.New("mac_mismatch")

const streamBufSize = 128 * 1024

// chunkSize returns the length of the i-th MAC chunk: 128 KiB growing by
// 128 KiB per chunk for the first eight, 1 MiB from then on.
func chunkSize(i int) int64 {
	if i < 8 {
		return int64(i+1) * 0x20000
	}
	return 0x100000
}

// macCalc accumulates the condensed MAC of a file stream. Each chunk is
// CBC-MACed with an IV derived from the file nonce; finished chunk MACs are
// folded into the file MAC one AES encryption at a time.
type macCalc struct {
	blk      cipher.Block
	chunkIV  [16]byte
	fileMAC  [16]byte
	chunkMAC [16]byte

	chunk     int
	remaining int64
	partial   [16]byte
	partialN  int
}

func newMacCalc(blk cipher.Block, iv [2]uint32) *macCalc {
	m := &macCalc{blk: blk}
	copy(m.chunkIV[0:], a32ToBytes([]uint32{iv[0], iv[1], iv[0], iv[1]}))
	m.chunkMAC = m.chunkIV
	m.remaining = chunkSize(0)
	return m
}

// write folds plaintext into the running MAC. Data may arrive in any
// fragmentation; chunk boundaries are tracked internally.
func (m *macCalc) write(p []byte) {
	for len(p) > 0 {
		if m.partialN > 0 || len(p) < aes.BlockSize || m.remaining < aes.BlockSize {
			n := aes.BlockSize - m.partialN
			if int64(n) > m.remaining {
				n = int(m.remaining)
			}
			if n > len(p) {
				n = len(p)
			}
			copy(m.partial[m.partialN:], p[:n])
			m.partialN += n
			p = p[n:]
			m.remaining -= int64(n)
			// Chunk lengths are block multiples, so a block always fills
			// before the chunk ends; sum handles the stream's final tail.
			if m.partialN == aes.BlockSize {
				m.foldBlock(m.partial[:])
				m.partial = [16]byte{}
				m.partialN = 0
			}
		} else {
			n := int64(len(p) &^ (aes.BlockSize - 1))
			if n > m.remaining&^(aes.BlockSize-1) {
				n = m.remaining &^ (aes.BlockSize - 1)
			}
			for off := int64(0); off < n; off += aes.BlockSize {
				m.foldBlock(p[off : off+aes.BlockSize])
			}
			p = p[n:]
			m.remaining -= n
		}
		if m.remaining == 0 {
			m.closeChunk()
		}
	}
}

// foldBlock XORs one zero-padded plaintext block into the chunk MAC and
// encrypts in place.
func (m *macCalc) foldBlock(b []byte) {
	for i := range b {
		m.chunkMAC[i] ^= b[i]
	}
	// Short final blocks are zero padded; the XOR above only touched the
	// bytes present, which is exactly zero padding.
	m.blk.Encrypt(m.chunkMAC[:], m.chunkMAC[:])
}

func (m *macCalc) closeChunk() {
	for i := range m.fileMAC {
		m.fileMAC[i] ^= m.chunkMAC[i]
	}
	m.blk.Encrypt(m.fileMAC[:], m.fileMAC[:])
	m.chunk++
	m.chunkMAC = m.chunkIV
	m.remaining = chunkSize(m.chunk)
}

// sum finishes any partial chunk and condenses the file MAC to two words.
func (m *macCalc) sum() [2]uint32 {
	if m.partialN > 0 {
		m.foldBlock(m.partial[:m.partialN])
		m.partialN = 0
	}
	if m.remaining != chunkSize(m.chunk) {
		m.closeChunk()
	}
	words := bytesToA32(m.fileMAC[:])
	return [2]uint32{words[0] ^ words[1], words[2] ^ words[3]}
}

// DecryptStream reads exactly size ciphertext bytes from r, decrypts them
// with the node key (AES-CTR with the counter starting at the file nonce)
// and writes plaintext to w, reporting each written span through onBytes.
// After the full stream is consumed the condensed MAC is compared against
// the key's meta-MAC in constant time.
//
// Read failures and short streams come back wrapped in ErrNetwork so the
// caller can restart the whole stream; write failures are returned as-is.
func DecryptStream(ctx context.Context, key NodeKey, size int64, r io.Reader, w io.Writer, onBytes func(n int64)) error {
	blk, err := aes.NewCipher(key.AESKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	ctr := cipher.NewCTR(blk, a32ToBytes([]uint32{key.IV[0], key.IV[1], 0, 0}))
	mac := newMacCalc(blk, key.IV)

	buf := make([]byte, streamBufSize)
	var done int64
	for done < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := int64(len(buf))
		if rem := size - done; rem < want {
			want = rem
		}
		n, rerr := io.ReadFull(r, buf[:want])
		if n > 0 {
			ctr.XORKeyStream(buf[:n], buf[:n])
			mac.write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write plaintext: %w", werr)
			}
			done += int64(n)
			if onBytes != nil {
				onBytes(int64(n))
			}
		}
		if rerr != nil {
			if errors.Is(rerr, context.Canceled) || errors.Is(rerr, context.DeadlineExceeded) {
				return rerr
			}
			return fmt.Errorf("%w: stream ended at %d of %d bytes: %v", ErrNetwork, done, size, rerr)
		}
	}
	if !key.VerifyMAC {
		return nil
	}
	got := mac.sum()
	want := key.MetaMAC
	if subtle.ConstantTimeCompare(a32ToBytes(got[:]), a32ToBytes(want[:])) != 1 {
		return fmt.Errorf("%w: computed %08x%08x, expected %08x%08x",
			ErrMacMismatch, got[0], got[1], want[0], want[1])
	}
	return nil
}
