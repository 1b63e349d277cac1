package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/checksum"
)

// ItemReport records the outcome for one manifest item.
type ItemReport struct {
	FinalFilename string `json:"final_filename"`
	Size          int64  `json:"size,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Report summarizes an archive build. Failed items are omitted from the
// archive, never fatal to the whole batch.
type Report struct {
	Written []ItemReport `json:"written"`
	Failed  []ItemReport `json:"failed"`
}

// Archiver fetches manifest URLs with a bounded worker pool and writes the
// archive entries in manifest order, so repeated exports of the same
// selection are byte-for-byte reproducible modulo remote content changes.
type Archiver struct {
	client  *http.Client
	workers int
	logger  *slog.Logger

	// OnProgress, if set, is called after each item is resolved
	// (written or failed) with the number done and the total.
	OnProgress func(done, total int)
	// OnItemFailed, if set, is called for each item whose fetch failed.
	OnItemFailed func(finalFilename string, err error)
}

// NewArchiver creates an Archiver. workers bounds concurrent fetches.
func NewArchiver(client *http.Client, workers int, logger *slog.Logger) *Archiver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if workers < 1 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{client: client, workers: workers, logger: logger}
}

// Build fetches every manifest item and writes a complete zip to w.
//
// Fetches run concurrently on an immutable snapshot of the manifest; the
// single zip writer then consumes the results strictly in manifest order.
// Nothing is written to w until all fetches have settled, so a cancelled
// build never leaves a partially-committed archive behind. A per-item fetch
// failure is logged, reported, and skipped.
func (a *Archiver) Build(ctx context.Context, m Manifest, w io.Writer) (Report, error) {
	total := len(m.Items)
	bodies := make([][]byte, total)
	fetchErrs := make([]error, total)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range m.Items {
		g.Go(func() error {
			item := m.Items[i]
			data, err := a.fetch(gCtx, item.URL)
			if err != nil {
				fetchErrs[i] = &apperr.AssetFetchError{
					Filename: item.FinalFilename,
					URL:      item.URL,
					Err:      err,
				}
				return nil
			}
			bodies[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var report Report
	zw := zip.NewWriter(w)
	for i, item := range m.Items {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if fetchErrs[i] != nil {
			a.logger.Warn("archive: item skipped",
				slog.String("filename", item.FinalFilename),
				slog.String("error", fetchErrs[i].Error()))
			report.Failed = append(report.Failed, ItemReport{
				FinalFilename: item.FinalFilename,
				Error:         fetchErrs[i].Error(),
			})
			if a.OnItemFailed != nil {
				a.OnItemFailed(item.FinalFilename, fetchErrs[i])
			}
			a.progress(i+1, total)
			continue
		}

		f, err := zw.Create(item.FinalFilename + ".jpg")
		if err != nil {
			return Report{}, fmt.Errorf("archive: create entry %s: %w", item.FinalFilename, err)
		}
		if _, err := f.Write(bodies[i]); err != nil {
			return Report{}, fmt.Errorf("archive: write entry %s: %w", item.FinalFilename, err)
		}
		report.Written = append(report.Written, ItemReport{
			FinalFilename: item.FinalFilename,
			Size:          int64(len(bodies[i])),
			Checksum:      checksum.Sum(bodies[i]),
		})
		a.progress(i+1, total)
	}

	if err := zw.Close(); err != nil {
		return Report{}, fmt.Errorf("archive: finalize: %w", err)
	}
	return report, nil
}

func (a *Archiver) progress(done, total int) {
	if a.OnProgress != nil {
		a.OnProgress(done, total)
	}
}

func (a *Archiver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
