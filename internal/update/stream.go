package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Download tuning.
const (
	// ChunkSize bounds how much of a payload is held in memory at once.
	ChunkSize = 2048
	// KickInterval is the longest a download runs without kicking the
	// liveness watchdog.
	KickInterval = 300 * time.Millisecond
	// maxDecodedWindow caps zstd decoder memory.
	maxDecodedWindow = 8 << 20
)

// Kicker resets a liveness watchdog.
type Kicker interface {
	Kick()
}

type nopKicker struct{}

func (nopKicker) Kick() {}

// errTooLarge is wrapped when a payload exceeds the caller's limit.
var errTooLarge = errors.New("payload exceeds size limit")

// digestReader hashes everything read through it and remembers the first
// transport error so it can be told apart from a decode error.
type digestReader struct {
	r      io.Reader
	sha    hash.Hash
	b3     hash.Hash
	netErr error
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.sha.Write(p[:n])
		d.b3.Write(p[:n])
	}
	if err != nil && err != io.EOF && d.netErr == nil {
		d.netErr = err
	}
	return n, err
}

// download streams m.URL into dst in ChunkSize pieces, kicking the watchdog
// along the way, then checks the digests. Digests cover the bytes as served,
// before any decoding. limit bounds the decoded size; 0 means unbounded.
//
// dst may have received data when an error is returned; callers stage into
// something they can discard.
func (s *source) download(ctx context.Context, m Manifest, dst io.Writer, limit int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	s.kick(true)
	status, body, err := s.deps.Fetcher.Get(ctx, m.URL)
	if err != nil {
		return 0, newError(s.domain, ClassTransientNetwork, "get %s: %w", m.URL, err)
	}
	defer body.Close()
	if status != http.StatusOK {
		return 0, newError(s.domain, ClassTransientNetwork, "get %s: status %d", m.URL, status)
	}

	dr := &digestReader{r: body, sha: sha256.New(), b3: blake3.New()}
	var src io.Reader = dr
	if m.Encoding == EncodingZstd {
		dec, err := zstd.NewReader(dr,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxWindow(maxDecodedWindow),
		)
		if err != nil {
			return 0, newError(s.domain, ClassIntegrityFailure, "zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if limit > 0 && total > limit {
				return total, newError(s.domain, ClassMalformedRemoteData, "%w (%d bytes)", errTooLarge, limit)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, newError(s.domain, ClassLocalPersistence, "write payload: %w", werr)
			}
			s.kick(false)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if dr.netErr != nil {
				return total, newError(s.domain, ClassTransientNetwork, "read %s: %w", m.URL, dr.netErr)
			}
			return total, newError(s.domain, ClassIntegrityFailure, "decode %s: %w", m.URL, rerr)
		}
	}

	if m.SHA256 != "" {
		if got := hex.EncodeToString(dr.sha.Sum(nil)); got != m.SHA256 {
			return total, newError(s.domain, ClassIntegrityFailure, "sha256 mismatch: got %s want %s", got, m.SHA256)
		}
	}
	if m.BLAKE3 != "" {
		if got := hex.EncodeToString(dr.b3.Sum(nil)); got != m.BLAKE3 {
			return total, newError(s.domain, ClassIntegrityFailure, "blake3 mismatch: got %s want %s", got, m.BLAKE3)
		}
	}
	return total, nil
}

// kick resets the watchdog if KickInterval has passed since the last kick,
// or unconditionally when force is set.
func (s *source) kick(force bool) {
	now := s.deps.Clock.Uptime()
	if !force && now-s.lastKick < KickInterval {
		return
	}
	s.lastKick = now
	s.deps.Kicker.Kick()
}

// readManifest fetches and parses the manifest at url.
func (s *source) readManifest(ctx context.Context, url string) (Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, ManifestTimeout)
	defer cancel()

	status, body, err := s.deps.Fetcher.Get(ctx, url)
	if err != nil {
		return Manifest{}, newError(s.domain, ClassTransientNetwork, "get %s: %w", url, err)
	}
	defer body.Close()
	if status != http.StatusOK {
		return Manifest{}, newError(s.domain, ClassTransientNetwork, "get %s: status %d", url, status)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxManifestSize+1))
	if err != nil {
		return Manifest{}, newError(s.domain, ClassTransientNetwork, "read %s: %w", url, err)
	}
	if len(data) > maxManifestSize {
		return Manifest{}, newError(s.domain, ClassMalformedRemoteData, "manifest %s: %w", url, errTooLarge)
	}
	m, err := parseManifest(data, s.section)
	if err != nil {
		return Manifest{}, &Error{Domain: s.domain, Class: ClassMalformedRemoteData, Err: fmt.Errorf("%s: %w", url, err)}
	}
	return m, nil
}
