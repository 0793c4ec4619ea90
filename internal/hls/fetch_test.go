package hls

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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodgrab/internal/decrypt"
	"vodgrab/internal/httputil"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXTINF:10.0,
seg2.ts
#EXT-X-ENDLIST
`

func newTestFetcher(srv *httptest.Server) *Fetcher {
	f := NewFetcher(srv.Client(), "", nil)
	f.backoff.InitialBackoff = time.Millisecond
	f.backoff.MaxBackoff = 2 * time.Millisecond
	return f
}

func serve(routes map[string]string) *httptest.Server {
	mux := http.NewServeMux()
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	return httptest.NewServer(mux)
}

func TestFetchSingleFile(t *testing.T) {
	srv := serve(map[string]string{"/movie.mp4": "mp4-bytes"})
	defer srv.Close()

	var out bytes.Buffer
	stats, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/movie.mp4"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", out.String())
	assert.Equal(t, Stats{Segments: 1, Bytes: 9}, stats)
}

func TestFetchMediaPlaylist(t *testing.T) {
	srv := serve(map[string]string{
		"/v/index.m3u8": mediaPlaylist,
		"/v/seg0.ts":    "AAA",
		"/v/seg1.ts":    "BBB",
		"/v/seg2.ts":    "CCC",
	})
	defer srv.Close()

	var out bytes.Buffer
	var seen []int
	stats, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/v/index.m3u8"}, &out,
		func(done, total int) {
			assert.Equal(t, 3, total)
			seen = append(seen, done)
		})
	require.NoError(t, err)
	assert.Equal(t, "AAABBBCCC", out.String())
	assert.Equal(t, 3, stats.Segments)
	assert.True(t, stats.Playlist)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestFetchPlaylistDetectedByContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "plain", body: mediaPlaylist},
		{name: "byte order mark", body: "\ufeff" + mediaPlaylist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(map[string]string{
				"/play":    tt.body,
				"/seg0.ts": "1",
				"/seg1.ts": "2",
				"/seg2.ts": "3",
			})
			defer srv.Close()

			var out bytes.Buffer
			stats, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/play?id=7"}, &out, nil)
			require.NoError(t, err)
			assert.True(t, stats.Playlist)
			assert.Equal(t, "123", out.String())
		})
	}
}

func TestFetchMasterPicksHighestBandwidth(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
high/index.m3u8
`
	srv := serve(map[string]string{
		"/master.m3u8":     master,
		"/low/index.m3u8":  mediaPlaylist,
		"/high/index.m3u8": mediaPlaylist,
		"/low/seg0.ts":     "l",
		"/low/seg1.ts":     "l",
		"/low/seg2.ts":     "l",
		"/high/seg0.ts":    "h",
		"/high/seg1.ts":    "h",
		"/high/seg2.ts":    "h",
	})
	defer srv.Close()

	var out bytes.Buffer
	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/master.m3u8"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "hhh", out.String())
}

func encryptSegment(t *testing.T, plain, key, iv []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(n)}, n)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return string(out)
}

func TestFetchDecryptsAES128(t *testing.T) {
	key := []byte("0123456789abcdef")
	explicitIV := append(make([]byte, 15), 9)
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:5
#EXT-X-KEY:METHOD=AES-128,URI="/keys/k.bin",IV=0x00000000000000000000000000000009
#EXTINF:10.0,
a.ts
#EXT-X-KEY:METHOD=AES-128,URI="/keys/k.bin"
#EXTINF:10.0,
b.ts
#EXT-X-ENDLIST
`
	srv := serve(map[string]string{
		"/s/index.m3u8": playlist,
		"/keys/k.bin":   string(key),
		"/s/a.ts":       encryptSegment(t, []byte("first-segment"), key, explicitIV),
		"/s/b.ts":       encryptSegment(t, []byte("second"), key, decrypt.SequenceIV(6)),
	})
	defer srv.Close()

	var out bytes.Buffer
	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/s/index.m3u8"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "first-segmentsecond", out.String())
}

func TestFetchRejectsSampleAES(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="k.bin"
#EXTINF:10.0,
a.ts
#EXT-X-ENDLIST
`
	srv := serve(map[string]string{"/index.m3u8": playlist, "/a.ts": "x", "/k.bin": "0123456789abcdef"})
	defer srv.Close()

	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/index.m3u8"}, &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedEncryption)
}

func flakySegmentServer(failures int32, hits *atomic.Int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg.ts\n#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/seg.ts", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	return httptest.NewServer(mux)
}

func TestFetchRetriesFragments(t *testing.T) {
	var hits atomic.Int32
	srv := flakySegmentServer(2, &hits)
	defer srv.Close()

	var out bytes.Buffer
	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/index.m3u8", FragmentRetries: 2}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.String())
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchFragmentBudgetExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := flakySegmentServer(10, &hits)
	defer srv.Close()

	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/index.m3u8", FragmentRetries: 1}, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\ngone.ts\n#EXT-X-ENDLIST\n"))
			return
		}
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/index.m3u8", FragmentRetries: 5}, &bytes.Buffer{}, nil)
	var se *httputil.StatusError
	require.True(t, errors.As(err, &se), "err = %v", err)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchEmptyPlaylist(t *testing.T) {
	srv := serve(map[string]string{"/index.m3u8": "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-ENDLIST\n"})
	defer srv.Close()

	_, err := newTestFetcher(srv).Fetch(context.Background(), Request{URL: srv.URL + "/index.m3u8"}, &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, ErrEmptyPlaylist)
}
