package mega

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadKey marks key material that cannot be decoded or unwrapped.
	ErrBadKey = errors.New("bad_node_key")
	// ErrBadAttrs marks an attribute blob that does not decrypt to a valid
	// attribute object.
	ErrBadAttrs = errors.New("bad_node_attrs")
)

// NodeKey is the decryption material derived from a node's key field. IV and
// MetaMAC only carry meaning for files. VerifyMAC is false when the link
// carried a bare 16-byte key with no embedded MAC, in which case the stream
// is decrypted without integrity verification.
type NodeKey struct {
	AESKey    []byte
	IV        [2]uint32
	MetaMAC   [2]uint32
	VerifyMAC bool
}

func decodeBase64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func bytesToA32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out
}

func a32ToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// FileKeyFromToken decodes the key token of a file link. File links carry
// the full 32-byte node key; a bare 16-byte key is accepted but disables
// MAC verification.
func FileKeyFromToken(token string) (NodeKey, error) {
	raw, err := decodeBase64url(token)
	if err != nil {
		return NodeKey{}, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return fileNodeKey(raw)
}

// ShareKeyFromToken decodes the key token of a folder link into the 16-byte
// share master key.
func ShareKeyFromToken(token string) ([]byte, error) {
	raw, err := decodeBase64url(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("%w: share key is %d bytes", ErrBadKey, len(raw))
	}
	return raw, nil
}

// fileNodeKey splits raw file key material into the AES key, the CTR IV and
// the embedded meta-MAC. The 32-byte layout is key^mac material in the first
// half and iv||mac words in the second; folding the halves recovers the key.
func fileNodeKey(raw []byte) (NodeKey, error) {
	switch len(raw) {
	case 32:
		key := make([]byte, 16)
		for i := range key {
			key[i] = raw[i] ^ raw[i+16]
		}
		words := bytesToA32(raw[16:])
		return NodeKey{
			AESKey:    key,
			IV:        [2]uint32{words[0], words[1]},
			MetaMAC:   [2]uint32{words[2], words[3]},
			VerifyMAC: true,
		}, nil
	case 16:
		key := make([]byte, 16)
		copy(key, raw)
		return NodeKey{AESKey: key}, nil
	}
	return NodeKey{}, fmt.Errorf("%w: file key is %d bytes", ErrBadKey, len(raw))
}

func folderNodeKey(raw []byte) (NodeKey, error) {
	if len(raw) != 16 {
		return NodeKey{}, fmt.Errorf("%w: folder key is %d bytes", ErrBadKey, len(raw))
	}
	key := make([]byte, 16)
	copy(key, raw)
	return NodeKey{AESKey: key}, nil
}

// selectKeyPair picks the wrapped key out of an "owner:base64key[/...]"
// field, preferring the pair owned by the share root. Shares in the wild are
// inconsistent about the owner part, so the first parsable pair is the
// fallback.
func selectKeyPair(field, shareHandle string) (string, bool) {
	first := ""
	for _, part := range strings.Split(field, "/") {
		owner, wrapped, ok := strings.Cut(part, ":")
		if !ok || wrapped == "" {
			continue
		}
		if owner == shareHandle {
			return wrapped, true
		}
		if first == "" {
			first = wrapped
		}
	}
	return first, first != ""
}

// unwrapNodeKey decrypts a wrapped node key with the share master key,
// AES-ECB one block at a time.
func unwrapNodeKey(shareKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 || len(wrapped)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: wrapped key is %d bytes", ErrBadKey, len(wrapped))
	}
	blk, err := aes.NewCipher(shareKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	out := make([]byte, len(wrapped))
	for i := 0; i < len(wrapped); i += aes.BlockSize {
		blk.Decrypt(out[i:], wrapped[i:])
	}
	return out, nil
}

type nodeAttrs struct {
	Name string `json:"n"`
}

// decryptAttrs decrypts a node's attribute blob (AES-CBC, zero IV) and
// returns the embedded name. The plaintext must start with the "MEGA" magic,
// followed by a JSON attribute object, zero-padded to the block size.
func decryptAttrs(key []byte, attrB64 string) (string, error) {
	data, err := decodeBase64url(attrB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAttrs, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is %d bytes", ErrBadAttrs, len(data))
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAttrs, err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(blk, make([]byte, aes.BlockSize)).CryptBlocks(plain, data)
	trimmed := strings.TrimRight(string(plain), "\x00")
	if !strings.HasPrefix(trimmed, "MEGA") {
		return "", fmt.Errorf("%w: missing attribute magic", ErrBadAttrs)
	}
	var attrs nodeAttrs
	if err := json.Unmarshal([]byte(trimmed[4:]), &attrs); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAttrs, err)
	}
	if attrs.Name == "" {
		return "", fmt.Errorf("%w: attribute object has no name", ErrBadAttrs)
	}
	return attrs.Name, nil
}
