// Package util holds small helpers shared by the server and the executor.
package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding lists every content coding DecodeBody understands.
const AcceptEncoding = "gzip, deflate, br, zstd"

// DecodeBody wraps body so reads return decoded bytes for the given
// Content-Encoding header value. Stacked codings ("gzip, br") are undone in
// reverse order. Closing the result closes body.
func DecodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	codings := strings.Split(encoding, ",")
	var r io.Reader = body
	var closers []func()
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			closers = append(closers, func() { gz.Close() })
			r = gz
		case "deflate":
			zr, err := zlib.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			closers = append(closers, func() { zr.Close() })
			r = zr
		case "br":
			r = brotli.NewReader(r)
		case "zstd":
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("zstd: %w", err)
			}
			closers = append(closers, dec.Close)
			r = dec
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", coding)
		}
	}
	if len(closers) == 0 {
		return body, nil
	}
	return &decodedBody{Reader: r, body: body, closers: closers}, nil
}

type decodedBody struct {
	io.Reader
	body    io.Closer
	closers []func()
}

func (d *decodedBody) Close() error {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	return d.body.Close()
}
