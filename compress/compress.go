// Package compress decorates a storage.Backend with automatic compression
// of stored body chunks, reducing storage footprint at the cost of CPU.
// Supports gzip, brotli and snappy, selected per Store and recorded per
// chunk so a Store can decompress chunks written by a previous instance
// configured with a different algorithm.
package compress

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// Algorithm identifies a supported compression algorithm.
type Algorithm int

const (
	// Gzip is a good balance of compression ratio and speed.
	Gzip Algorithm = iota
	// Brotli gives the best compression ratio at the cost of speed.
	Brotli
	// Snappy is the fastest, with the lowest compression ratio.
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds running compression statistics for a Store.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
}

// CompressionRatio returns CompressedBytes/UncompressedBytes, or 0 if
// nothing has been compressed yet.
func (s Stats) CompressionRatio() float64 {
	if s.UncompressedBytes == 0 {
		return 0
	}
	return float64(s.CompressedBytes) / float64(s.UncompressedBytes)
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

func compressorFor(algo Algorithm, level int) (compressFunc, error) {
	switch algo {
	case Gzip:
		return gzipCompressor(level)
	case Brotli:
		return brotliCompressor(level)
	case Snappy:
		return snappyCompress, nil
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm: %v", algo)
	}
}

func decompressorFor(algo Algorithm) (decompressFunc, error) {
	switch algo {
	case Gzip:
		return gzipDecompress, nil
	case Brotli:
		return brotliDecompress, nil
	case Snappy:
		return snappyDecompress, nil
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm: %v", algo)
	}
}

// Config configures a Store.
type Config struct {
	// Algorithm selects the compression algorithm new chunks are written
	// with. Defaults to Gzip.
	Algorithm Algorithm
	// Level is the algorithm-specific compression level; 0 selects each
	// algorithm's default.
	Level int
	// MinSize is the smallest chunk, in bytes, worth compressing. Chunks
	// below this size are stored with the "uncompressed" marker, since the
	// per-chunk overhead can exceed the savings. Defaults to 256.
	MinSize int
}

// Store decorates a storage.Backend, compressing body stream chunks before
// they reach the inner backend and decompressing them on read. Each stored
// chunk is prefixed with a one-byte marker: 0 for uncompressed, or the
// algorithm it was compressed with (Algorithm+1), so a Store can always
// decompress chunks a differently-configured Store wrote.
type Store struct {
	inner   storage.Backend
	algo    Algorithm
	level   int
	minSize int
	compress compressFunc

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

// New wraps inner with compression per cfg.
func New(inner storage.Backend, cfg Config) (*Store, error) {
	if cfg.MinSize == 0 {
		cfg.MinSize = 256
	}
	compress, err := compressorFor(cfg.Algorithm, cfg.Level)
	if err != nil {
		return nil, err
	}
	return &Store{
		inner:    inner,
		algo:     cfg.Algorithm,
		level:    cfg.Level,
		minSize:  cfg.MinSize,
		compress: compress,
	}, nil
}

// Stats returns a snapshot of the Store's compression statistics.
func (s *Store) Stats() Stats {
	return Stats{
		CompressedBytes:   s.compressedBytes.Load(),
		UncompressedBytes: s.uncompressedBytes.Load(),
		CompressedCount:   s.compressedCount.Load(),
		UncompressedCount: s.uncompressedCount.Load(),
	}
}

func (s *Store) encode(chunk []byte) []byte {
	if len(chunk) < s.minSize {
		out := make([]byte, len(chunk)+1)
		out[0] = 0
		copy(out[1:], chunk)
		s.uncompressedCount.Add(1)
		s.uncompressedBytes.Add(int64(len(chunk)))
		return out
	}

	compressed, err := s.compress(chunk)
	if err != nil {
		out := make([]byte, len(chunk)+1)
		out[0] = 0
		copy(out[1:], chunk)
		s.uncompressedCount.Add(1)
		s.uncompressedBytes.Add(int64(len(chunk)))
		return out
	}

	out := make([]byte, len(compressed)+1)
	out[0] = byte(s.algo) + 1
	copy(out[1:], compressed)
	s.compressedCount.Add(1)
	s.compressedBytes.Add(int64(len(compressed)))
	s.uncompressedBytes.Add(int64(len(chunk)))
	return out
}

func decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	marker := data[0]
	if marker == 0 {
		return data[1:], nil
	}
	decompress, err := decompressorFor(Algorithm(marker - 1))
	if err != nil {
		return nil, err
	}
	return decompress(data[1:])
}

type bodyWriter struct {
	s *Store
	w storage.BodyWriter
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	return w.w.Write(ctx, w.s.encode(chunk))
}

func (w *bodyWriter) Finish(ctx context.Context) error { return w.w.Finish(ctx) }

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	w, err := s.inner.OpenBodyWriter(ctx, entryID, kind)
	if err != nil {
		return nil, err
	}
	return &bodyWriter{s: s, w: w}, nil
}

type bodyReader struct {
	r storage.BodyReader
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	encoded, end, err := r.r.Next(ctx)
	if err != nil || end {
		return nil, end, err
	}
	decoded, err := decode(encoded)
	if err != nil {
		return nil, true, err
	}
	return decoded, false, nil
}

func (r *bodyReader) Close() error { return r.r.Close() }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	r, err := s.inner.OpenBodyReader(ctx, entryID, kind)
	if err != nil {
		return nil, err
	}
	return &bodyReader{r: r}, nil
}

func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	return s.inner.CreateEntry(ctx, cacheKey, req, resp)
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	return s.inner.GetEntries(ctx, cacheKey, refreshTTL)
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	return s.inner.UpdateEntry(ctx, id, fn)
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	return s.inner.RemoveEntry(ctx, id)
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	return s.inner.RemoveByCacheKey(ctx, cacheKey)
}

func (s *Store) Cleanup(ctx context.Context) error { return s.inner.Cleanup(ctx) }

func (s *Store) Close() error { return s.inner.Close() }

var _ storage.Backend = (*Store)(nil)
