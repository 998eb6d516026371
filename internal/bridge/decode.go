package bridge

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// maxDecodedBytes caps decompressed upstream bodies.
const maxDecodedBytes = 256 << 20 // 256MiB

// decodeResponseBody undoes the remote's Content-Encoding so the body
// can be re-served verbatim after the encoding headers are stripped.
// The transport to the browser reframes on its own terms.
func decodeResponseBody(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return readCapped(r)
	case "br":
		return readCapped(brotli.NewReader(bytes.NewReader(body)))
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			// Some servers send raw deflate without the zlib wrapper.
			fr := flate.NewReader(bytes.NewReader(body))
			defer func() { _ = fr.Close() }()
			return readCapped(fr)
		}
		defer func() { _ = r.Close() }()
		return readCapped(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func readCapped(r io.Reader) ([]byte, error) {
	decoded, err := io.ReadAll(io.LimitReader(r, maxDecodedBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(decoded)) > maxDecodedBytes {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", int64(maxDecodedBytes))
	}
	return decoded, nil
}
