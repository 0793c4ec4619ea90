// Package hls downloads a stream natively: HLS playlists segment by segment,
// anything else as a single fragment.
package hls

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"

	"vodgrab/internal/decrypt"
	"vodgrab/internal/httputil"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
	"vodgrab/internal/retry"
)

// maxPlaylistDepth bounds master → variant indirection.
const maxPlaylistDepth = 3

var utf8BOM = []byte("\ufeff")

// ErrUnsupportedEncryption is returned for key methods other than NONE and AES-128.
var ErrUnsupportedEncryption = errors.New("unsupported segment encryption")

// ErrEmptyPlaylist means a media playlist listed no segments.
var ErrEmptyPlaylist = errors.New("playlist has no segments")

// Request describes one stream to fetch.
type Request struct {
	URL             string
	Referer         string
	FragmentRetries int
}

// Stats summarises a finished fetch.
type Stats struct {
	Segments int
	Bytes    int64
	Playlist bool // The source was an HLS playlist
}

// ProgressFunc is called after each fragment with the fragments written so far
// and the total (0 when unknown).
type ProgressFunc func(done, total int)

// Fetcher downloads streams over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	backoff   retry.Config
	log       *zap.Logger
}

// NewFetcher creates a Fetcher. A nil client uses httputil.NewClient.
func NewFetcher(client *http.Client, userAgent string, log *zap.Logger) *Fetcher {
	if client == nil {
		client = httputil.NewClient()
	}
	backoff := retry.DefaultConfig()
	backoff.InitialBackoff = 500 * time.Millisecond
	backoff.MaxBackoff = 5 * time.Second
	return &Fetcher{client: client, userAgent: userAgent, backoff: backoff, log: logging.OrNop(log)}
}

// Fetch writes the stream at req.URL to w. Playlists are resolved to the
// highest-bandwidth variant and their segments written in order, decrypted when
// keyed with AES-128. Each fragment is retried up to req.FragmentRetries times.
func (f *Fetcher) Fetch(ctx context.Context, req Request, w io.Writer, progress ProgressFunc) (Stats, error) {
	resp, err := f.get(ctx, req, req.URL, "")
	if err != nil {
		return Stats{}, err
	}
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	if media.KindFromURL(req.URL) != media.KindM3U8 && !looksLikePlaylist(br) {
		n, err := io.Copy(w, br)
		if err != nil {
			return Stats{Bytes: n}, fmt.Errorf("copying stream: %w", err)
		}
		if progress != nil {
			progress(1, 1)
		}
		return Stats{Segments: 1, Bytes: n}, nil
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return Stats{}, fmt.Errorf("reading playlist: %w", err)
	}
	pl, base, err := f.mediaPlaylist(ctx, req, body, req.URL, 0)
	if err != nil {
		return Stats{}, err
	}
	stats, err := f.writeSegments(ctx, req, pl, base, w, progress)
	stats.Playlist = true
	return stats, err
}

// mediaPlaylist decodes body and follows master playlists down to a media playlist.
func (f *Fetcher) mediaPlaylist(ctx context.Context, req Request, body []byte, playlistURL string, depth int) (*m3u8.MediaPlaylist, string, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	pl, _, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, "", fmt.Errorf("decoding playlist %s: %w", playlistURL, err)
	}

	switch p := pl.(type) {
	case *m3u8.MediaPlaylist:
		return p, playlistURL, nil
	case *m3u8.MasterPlaylist:
		if depth >= maxPlaylistDepth {
			return nil, "", fmt.Errorf("playlist nesting deeper than %d at %s", maxPlaylistDepth, playlistURL)
		}
		v := BestVariant(p.Variants)
		if v == nil {
			return nil, "", fmt.Errorf("master playlist %s has no variants", playlistURL)
		}
		next, err := resolve(playlistURL, v.URI)
		if err != nil {
			return nil, "", err
		}
		f.log.Debug("selected variant",
			zap.String("uri", next),
			zap.Uint32("bandwidth", v.Bandwidth),
			zap.String("resolution", v.Resolution))

		data, err := f.fetchBytes(ctx, req, next, "")
		if err != nil {
			return nil, "", fmt.Errorf("fetching variant playlist: %w", err)
		}
		return f.mediaPlaylist(ctx, req, data, next, depth+1)
	default:
		return nil, "", fmt.Errorf("unrecognised playlist at %s", playlistURL)
	}
}

func (f *Fetcher) writeSegments(ctx context.Context, req Request, pl *m3u8.MediaPlaylist, base string, w io.Writer, progress ProgressFunc) (Stats, error) {
	var segs []*m3u8.MediaSegment
	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return Stats{}, ErrEmptyPlaylist
	}

	dec := decrypt.New(f.client, req.Referer, f.userAgent)
	var (
		stats   Stats
		key     = pl.Key // Playlist-level values apply until a segment overrides them
		initMap *m3u8.Map
		nextMap = pl.Map
	)
	for i, seg := range segs {
		if seg.Key != nil {
			key = seg.Key
		}
		if seg.Map != nil {
			nextMap = seg.Map
		}
		if nextMap != nil && (initMap == nil || *nextMap != *initMap) {
			initMap = nextMap
			data, err := f.fetchBytes(ctx, req, mustResolve(base, initMap.URI), byteRange(initMap.Limit, initMap.Offset))
			if err != nil {
				return stats, fmt.Errorf("fetching init segment: %w", err)
			}
			n, err := w.Write(data)
			stats.Bytes += int64(n)
			if err != nil {
				return stats, fmt.Errorf("writing init segment: %w", err)
			}
		}

		segURL, err := resolve(base, seg.URI)
		if err != nil {
			return stats, err
		}
		data, err := f.fetchBytes(ctx, req, segURL, byteRange(seg.Limit, seg.Offset))
		if err != nil {
			return stats, fmt.Errorf("segment %d/%d: %w", i+1, len(segs), err)
		}
		if data, err = f.decryptSegment(ctx, dec, key, base, pl.SeqNo+uint64(i), data); err != nil {
			return stats, fmt.Errorf("segment %d/%d: %w", i+1, len(segs), err)
		}

		n, err := w.Write(data)
		stats.Bytes += int64(n)
		if err != nil {
			return stats, fmt.Errorf("writing segment %d: %w", i+1, err)
		}
		stats.Segments++
		if progress != nil {
			progress(stats.Segments, len(segs))
		}
	}
	return stats, nil
}

func (f *Fetcher) decryptSegment(ctx context.Context, dec *decrypt.Decryptor, key *m3u8.Key, base string, seq uint64, data []byte) ([]byte, error) {
	if key == nil || key.Method == "" || strings.EqualFold(key.Method, "NONE") {
		return data, nil
	}
	if !strings.EqualFold(key.Method, "AES-128") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncryption, key.Method)
	}
	keyURL, err := resolve(base, key.URI)
	if err != nil {
		return nil, err
	}
	k, err := dec.Key(ctx, keyURL)
	if err != nil {
		return nil, err
	}
	iv := decrypt.SequenceIV(seq)
	if key.IV != "" {
		if iv, err = decrypt.ParseIV(key.IV); err != nil {
			return nil, err
		}
	}
	return decrypt.Decrypt(data, k, iv)
}

// fetchBytes downloads one fragment, retrying transient failures.
func (f *Fetcher) fetchBytes(ctx context.Context, req Request, rawURL, rng string) ([]byte, error) {
	cfg := f.backoff
	cfg.MaxRetries = req.FragmentRetries
	var data []byte
	err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		resp, err := f.get(ctx, req, rawURL, rng)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	}, func(attempt int, err error) {
		f.log.Debug("retrying fragment", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
	})
	return data, err
}

func (f *Fetcher) get(ctx context.Context, req Request, rawURL, rng string) (*http.Response, error) {
	resp, err := httputil.Get(ctx, f.client, httputil.Request{
		URL:       rawURL,
		Referer:   req.Referer,
		UserAgent: f.userAgent,
		Range:     rng,
	})
	var se *httputil.StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return nil, retry.Permanent(err)
	}
	return resp, err
}

// BestVariant returns the variant with the highest bandwidth.
func BestVariant(variants []*m3u8.Variant) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func looksLikePlaylist(br *bufio.Reader) bool {
	head, _ := br.Peek(16)
	return bytes.HasPrefix(bytes.TrimLeft(head, "\ufeff \t\r\n"), []byte("#EXTM3U"))
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parsing uri %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

func mustResolve(base, ref string) string {
	s, err := resolve(base, ref)
	if err != nil {
		return ref
	}
	return s
}

func byteRange(limit, offset int64) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1)
}
