package fetch

import (
	"bytes"
	"io"
	"testing"
)

// chunkReader returns at most size bytes per Read call.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(b []byte) (int, error) {
	if len(b) > c.size {
		b = b[:c.size]
	}
	return c.r.Read(b)
}

func TestProgressReader_KnownLength(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 100)
	var got []int
	pr := NewProgressReader(&chunkReader{r: bytes.NewReader(body), size: 10}, 100, func(p Progress) {
		if !p.HasPercent {
			t.Errorf("expected percentage for known length")
		}
		got = append(got, p.Percent)
	})

	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	want := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if len(got) != len(want) {
		t.Fatalf("got %d callbacks %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callback %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestProgressReader_OnlyOnChange(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 1000)
	calls := 0
	pr := NewProgressReader(&chunkReader{r: bytes.NewReader(body), size: 1}, 1000, func(Progress) {
		calls++
	})
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	// 1000 single byte reads, but only 101 distinct percentages (0..100)
	if calls != 101 {
		t.Fatalf("expected 101 callbacks, got %d", calls)
	}
	if pr.BytesRead() != 1000 {
		t.Fatalf("BytesRead = %d", pr.BytesRead())
	}
}

func TestProgressReader_UnknownLengthReportsMegabytes(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 3*megabyte+10)
	var got []int64
	pr := NewProgressReader(&chunkReader{r: bytes.NewReader(body), size: 64 * 1024}, -1, func(p Progress) {
		if p.HasPercent {
			t.Errorf("unexpected percentage for unknown length")
		}
		got = append(got, p.MegabytesRead)
	})
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected megabyte callbacks: %v", got)
	}
}

func TestProgressReader_NilCallback(t *testing.T) {
	pr := NewProgressReader(bytes.NewReader([]byte("abc")), 3, nil)
	if _, err := io.ReadAll(pr); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
}
