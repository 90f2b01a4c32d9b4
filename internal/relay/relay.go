// Package relay forwards a live upstream body to the client chunk-by-chunk.
package relay

import (
	"io"
	"net/http"
)

// Copy streams src to w, flushing after every read so each upstream chunk
// reaches the client as it arrives. Reads are never coalesced: one upstream
// read becomes one write, which keeps SSE event framing intact.
//
// Returns the number of bytes written. An error after the first byte cannot
// be reported to the client as a status — the stream simply ends there.
func Copy(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
