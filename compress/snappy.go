package compress

import (
	"fmt"

	"github.com/golang/snappy"
)

func snappyCompress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func snappyDecompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}
