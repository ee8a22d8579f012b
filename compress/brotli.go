package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

func brotliCompressor(level int) (compressFunc, error) {
	if level == 0 {
		level = 6
	}
	if level < 0 || level > 11 {
		return nil, fmt.Errorf("compress: invalid brotli level: %d", level)
	}
	return func(data []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("brotli write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close: %w", err)
		}
		return buf.Bytes(), nil
	}, nil
}

func brotliDecompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("brotli read: %w", err)
	}
	return out, nil
}
