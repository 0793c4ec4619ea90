package decrypt

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// encrypt is the inverse of Decrypt, for fixtures.
func encrypt(t *testing.T, plain, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(n)}, n)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := SequenceIV(7)
	tests := []struct {
		name  string
		plain []byte
	}{
		{"short", []byte("ts")},
		{"exact block", bytes.Repeat([]byte{0x47}, aes.BlockSize)},
		{"multi block", bytes.Repeat([]byte{0x47, 0x40}, 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decrypt(encrypt(t, tt.plain, key, iv), key, iv)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plain) {
				t.Errorf("Decrypt() = %x, want %x", got, tt.plain)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	iv := SequenceIV(0)
	data := encrypt(t, []byte("segment payload"), []byte("0123456789abcdef"), iv)
	_, err := Decrypt(data, []byte("fedcba9876543210"), iv)
	if err == nil {
		t.Skip("wrong key happened to produce valid padding")
	}
	if !errors.Is(err, ErrBadPadding) {
		t.Errorf("err = %v, want ErrBadPadding", err)
	}
}

func TestDecryptRejectsPartialBlock(t *testing.T) {
	if _, err := Decrypt([]byte("short"), []byte("0123456789abcdef"), SequenceIV(0)); err == nil {
		t.Error("expected error for partial block")
	}
}

func TestParseIV(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "0x000102030405060708090A0B0C0D0E0F", want: []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}},
		{in: "0X01", want: append(make([]byte, 15), 1)},
		{in: "0xZZ", wantErr: true},
		{in: "0x" + "00112233445566778899aabbccddeeff00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIV(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("ParseIV() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestSequenceIV(t *testing.T) {
	want := append(make([]byte, 14), 0x01, 0x02)
	if got := SequenceIV(0x0102); !bytes.Equal(got, want) {
		t.Errorf("SequenceIV() = %x, want %x", got, want)
	}
}

func TestKeyIsFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Referer") != "https://site.test/" {
			t.Errorf("Referer = %q", r.Header.Get("Referer"))
		}
		w.Write([]byte("0123456789abcdef"))
	}))
	defer srv.Close()

	d := New(srv.Client(), "https://site.test/", "")
	for i := 0; i < 3; i++ {
		key, err := d.Key(context.Background(), srv.URL+"/key.bin")
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if string(key) != "0123456789abcdef" {
			t.Errorf("Key() = %q", key)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("key fetched %d times, want 1", hits.Load())
	}
}

func TestKeyWrongSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	if _, err := New(srv.Client(), "", "").Key(context.Background(), srv.URL); err == nil {
		t.Error("expected error for a 5-byte key")
	}
}
