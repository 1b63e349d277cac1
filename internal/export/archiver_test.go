package export

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/broken") {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("image-bytes-" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_EntriesInManifestOrder(t *testing.T) {
	srv := mediaServer(t)
	m := Manifest{Items: []Item{
		{Identity: "k1", URL: srv.URL + "/one", FinalFilename: "A-1-00_01.jpg"},
		{Identity: "k2", URL: srv.URL + "/two", FinalFilename: "A-1-00_02.jpg"},
		{Identity: "k3", URL: srv.URL + "/three", FinalFilename: "B-2-00_01.jpg"},
	}}

	a := NewArchiver(srv.Client(), 2, nil)
	var buf bytes.Buffer
	report, err := a.Build(context.Background(), m, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Written) != 3 || len(report.Failed) != 0 {
		t.Fatalf("written=%d failed=%d", len(report.Written), len(report.Failed))
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"A-1-00_01.jpg.jpg", "A-1-00_02.jpg.jpg", "B-2-00_01.jpg.jpg"}
	if len(zr.File) != len(want) {
		t.Fatalf("zip entries = %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("entry %d = %q, want %q", i, f.Name, want[i])
		}
	}
	for _, r := range report.Written {
		if r.Size == 0 || r.Checksum == "" {
			t.Errorf("report %q missing size or checksum", r.FinalFilename)
		}
	}
}

func TestBuild_SkipsFailedItems(t *testing.T) {
	srv := mediaServer(t)
	m := Manifest{Items: []Item{
		{Identity: "k1", URL: srv.URL + "/ok", FinalFilename: "good"},
		{Identity: "k2", URL: srv.URL + "/broken", FinalFilename: "bad"},
		{Identity: "k3", URL: srv.URL + "/ok2", FinalFilename: "good2"},
	}}

	var mu sync.Mutex
	var failed []string
	a := NewArchiver(srv.Client(), 2, nil)
	a.OnItemFailed = func(name string, err error) {
		mu.Lock()
		failed = append(failed, name)
		mu.Unlock()
	}

	var buf bytes.Buffer
	report, err := a.Build(context.Background(), m, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Written) != 2 {
		t.Errorf("written = %d, want 2", len(report.Written))
	}
	if len(report.Failed) != 1 || report.Failed[0].FinalFilename != "bad" {
		t.Errorf("failed = %+v", report.Failed)
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("OnItemFailed got %v", failed)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 2 {
		t.Errorf("zip entries = %d, want 2", len(zr.File))
	}
}

func TestBuild_ProgressReachesTotal(t *testing.T) {
	srv := mediaServer(t)
	m := Manifest{Items: []Item{
		{URL: srv.URL + "/a", FinalFilename: "a"},
		{URL: srv.URL + "/broken", FinalFilename: "b"},
	}}

	var last, calls int
	a := NewArchiver(srv.Client(), 1, nil)
	a.OnProgress = func(done, total int) {
		last = done
		calls++
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
	}

	if _, err := a.Build(context.Background(), m, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if last != 2 || calls != 2 {
		t.Errorf("last=%d calls=%d", last, calls)
	}
}

func TestBuild_CancelledContextWritesNothing(t *testing.T) {
	srv := mediaServer(t)
	m := Manifest{Items: []Item{{URL: srv.URL + "/a", FinalFilename: "a"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := NewArchiver(srv.Client(), 1, nil).Build(ctx, m, &buf)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if buf.Len() != 0 {
		t.Errorf("buffer has %d bytes, want 0", buf.Len())
	}
}

func TestBuild_EmptyManifest(t *testing.T) {
	var buf bytes.Buffer
	report, err := NewArchiver(nil, 0, nil).Build(context.Background(), Manifest{}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Written) != 0 || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}
	if _, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Errorf("empty archive not readable: %v", err)
	}
}
