package server

import (
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// encoder is a compressing writer that can be flushed after every frame
// so that streamed output is not held back by the compressor.
type encoder interface {
	io.Writer
	Flush() error
	Close() error
}

// negotiateEncoding picks the first supported coding the client lists
// and returns it wrapped around w. It returns a nil encoder for identity.
func negotiateEncoding(acceptEncoding string, w io.Writer) (string, encoder) {
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q := strings.TrimSpace(params); q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			return "br", brotli.NewWriter(w)
		case "gzip":
			return "gzip", gzip.NewWriter(w)
		case "deflate":
			fw, err := flate.NewWriter(w, flate.DefaultCompression)
			if err != nil {
				continue
			}
			return "deflate", fw
		case "identity":
			return "", nil
		}
	}
	return "", nil
}
