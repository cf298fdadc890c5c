package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestCalculateRangesCoversWholeFileWithBalancedSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size  int64
		count int
	}{
		{size: 100, count: 5},
		{size: 101, count: 5},
		{size: 7, count: 3},
		{size: 1, count: 4},
	}

	for _, tc := range cases {
		ranges := calculateRanges(tc.size, tc.count)
		if len(ranges) != tc.count {
			t.Fatalf("size=%d count=%d: got %d ranges", tc.size, tc.count, len(ranges))
		}

		var total int64
		minSize, maxSize := int64(1<<62), int64(0)
		prevEnd := int64(-1)
		for _, r := range ranges {
			if r.start != prevEnd+1 {
				t.Fatalf("size=%d count=%d: ranges not contiguous: %+v", tc.size, tc.count, ranges)
			}
			n := r.end - r.start + 1
			total += n
			if n < minSize {
				minSize = n
			}
			if n > maxSize {
				maxSize = n
			}
			prevEnd = r.end
		}
		if total != tc.size {
			t.Errorf("size=%d count=%d: total = %d, want %d", tc.size, tc.count, total, tc.size)
		}
		if maxSize-minSize > 1 {
			t.Errorf("size=%d count=%d: range sizes differ by more than 1: min=%d max=%d", tc.size, tc.count, minSize, maxSize)
		}
		if ranges[len(ranges)-1].end != tc.size-1 {
			t.Errorf("last range end = %d, want %d", ranges[len(ranges)-1].end, tc.size-1)
		}
	}
}

func TestDownloadSingleStreamWritesCompleteFile(t *testing.T) {
	t.Parallel()

	const payload = "hello, world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	c := NewClient()
	if err := c.Download(context.Background(), srv.URL, dest, 1, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("content = %q, want %q", got, payload)
	}
}

func TestDownloadChunkedReassemblesFile(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), miniStreamSize+1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.WriteHeader(http.StatusOK)
			return
		}

		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Write(payload)
			return
		}

		start, end, err := parseRangeHeader(rangeHdr)
		if err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[start : end+1])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "chunked.bin")
	c := NewClient()
	if err := c.Download(context.Background(), srv.URL, dest, 4, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled content mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func parseRangeHeader(header string) (start, end int, err error) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range header %q", header)
	}
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err = strconv.Atoi(parts[1])
	return start, end, err
}
