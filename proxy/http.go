package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/sandrolain/rfccache"
)

// hopByHopHeaders are stripped going in both directions across the
// integration boundary, per §6.2: they describe the connection to whichever
// peer sent them, not the resource, and must never survive a hop.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

// httpSender adapts an *http.Client to Sender.
type httpSender struct {
	client *http.Client
}

// NewHTTPSender adapts client to a Sender the proxy drivers can use for the
// origin round trip. A nil client uses http.DefaultClient.
func NewHTTPSender(client *http.Client) Sender {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSender{client: client}
}

func (s *httpSender) Send(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = stripHopByHop(req.Header.Clone())

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	header := stripHopByHop(httpResp.Header.Clone())
	// The transport already transparently decoded any Content-Encoding it
	// applied; net/http strips the header itself in that case, so there is
	// nothing further to remove here (DisableCompression controls whether
	// it does).

	return rfccache.NewResponse(httpResp.StatusCode, header, respBody), nil
}

func stripHopByHop(h http.Header) http.Header {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	for _, connHeader := range h.Values("Connection") {
		h.Del(connHeader)
	}
	return h
}
