// Package decrypt fetches HLS segment keys and decrypts AES-128 segments.
package decrypt

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"vodgrab/internal/httputil"
)

// ErrBadPadding means the decrypted data did not end in valid PKCS#7 padding,
// usually because the key or IV is wrong.
var ErrBadPadding = errors.New("invalid PKCS#7 padding")

// Decryptor resolves key URIs into AES-128 keys. Keys are cached per URI for the
// life of the Decryptor.
type Decryptor struct {
	client    *http.Client
	referer   string
	userAgent string

	mu   sync.Mutex
	keys map[string][]byte
}

// New creates a Decryptor that fetches keys with client.
func New(client *http.Client, referer, userAgent string) *Decryptor {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Decryptor{
		client:    client,
		referer:   referer,
		userAgent: userAgent,
		keys:      make(map[string][]byte),
	}
}

// Key returns the 16-byte key served at keyURI.
func (d *Decryptor) Key(ctx context.Context, keyURI string) ([]byte, error) {
	d.mu.Lock()
	key, ok := d.keys[keyURI]
	d.mu.Unlock()
	if ok {
		return key, nil
	}

	resp, err := httputil.Get(ctx, d.client, httputil.Request{
		URL:       keyURI,
		Referer:   d.referer,
		UserAgent: d.userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching key: %w", err)
	}
	defer resp.Body.Close()

	key, err = io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("key at %s is %d bytes, want %d", keyURI, len(key), aes.BlockSize)
	}

	d.mu.Lock()
	d.keys[keyURI] = key
	d.mu.Unlock()
	return key, nil
}

// Decrypt reverses AES-128-CBC with PKCS#7 padding.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return unpad(out)
}

// ParseIV decodes an EXT-X-KEY IV attribute ("0x" followed by 32 hex digits).
func ParseIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	if len(iv) > aes.BlockSize {
		return nil, fmt.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	// Short values are left-padded, as the attribute is a 128-bit integer.
	if len(iv) < aes.BlockSize {
		iv = append(make([]byte, aes.BlockSize-len(iv)), iv...)
	}
	return iv, nil
}

// SequenceIV is the IV used when EXT-X-KEY has none: the media sequence number
// as a big-endian 128-bit integer.
func SequenceIV(seq uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, ErrBadPadding
	}
	return b[:len(b)-n], nil
}
