package fetch

import "io"

const megabyte = 1024 * 1024

// Progress is reported while a body is streamed. Percent is only valid when
// HasPercent is set, which requires a known content length.
type Progress struct {
	Percent       int
	HasPercent    bool
	MegabytesRead int64
}

// ProgressFunc receives progress updates on the download goroutine.
type ProgressFunc func(Progress)

// ProgressReader wraps an io.Reader and reports progress only when the
// rounded percentage (or, for unknown lengths, the megabyte count) changes.
type ProgressReader struct {
	r             io.Reader
	contentLength int64
	read          int64
	lastPercent   int
	lastMegabytes int64
	onProgress    ProgressFunc
}

// NewProgressReader wraps r. contentLength <= 0 means unknown.
func NewProgressReader(r io.Reader, contentLength int64, onProgress ProgressFunc) *ProgressReader {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	return &ProgressReader{
		r:             r,
		contentLength: contentLength,
		lastPercent:   -1,
		onProgress:    onProgress,
	}
}

func (p *ProgressReader) Read(b []byte) (n int, err error) {
	n, err = p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
	}
	mb := p.read / megabyte
	if p.contentLength > 0 {
		percent := int(100 * p.read / p.contentLength)
		if percent != p.lastPercent {
			p.lastPercent = percent
			p.onProgress(Progress{Percent: percent, HasPercent: true, MegabytesRead: mb})
		}
		return
	}
	if mb != p.lastMegabytes {
		p.lastMegabytes = mb
		p.onProgress(Progress{MegabytesRead: mb})
	}
	return
}

// BytesRead returns the number of bytes read so far.
func (p *ProgressReader) BytesRead() int64 {
	return p.read
}
