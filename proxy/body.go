package proxy

import (
	"context"

	"github.com/sandrolain/rfccache/storage"
)

// readBody drains a stored stream into a single buffer. Entry bodies are
// small enough in the drivers' working set (proxy responses, not arbitrary
// file transfers) that materializing them is the right trade-off against
// exposing a streaming Response type to every integration.
func readBody(ctx context.Context, backend storage.Backend, entryID string, kind storage.StreamKind) ([]byte, error) {
	r, err := backend.OpenBodyReader(ctx, entryID, kind)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var body []byte
	for {
		chunk, end, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		body = append(body, chunk...)
	}
	return body, nil
}

// writeBody persists body as a single chunk followed by the end-of-stream
// sentinel. A nil/empty body still opens and finishes the stream so
// OpenBodyReader always has a well-formed (empty) stream to read back.
func writeBody(ctx context.Context, backend storage.Backend, entryID string, kind storage.StreamKind, body []byte) error {
	w, err := backend.OpenBodyWriter(ctx, entryID, kind)
	if err != nil {
		return err
	}
	if len(body) > 0 {
		if err := w.Write(ctx, body); err != nil {
			return err
		}
	}
	return w.Finish(ctx)
}
