package analysis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
)

// maxImageBytes caps a single downloaded image.
const maxImageBytes = 15 << 20

// DownloadResult is the per-item outcome of a settle-all download gather.
// Results keep the order of the requested URLs; failed items carry Err and
// an empty Key.
type DownloadResult struct {
	URL string
	Key string
	Err error
}

// Downloader fetches remote images into the object store under dated keys.
type Downloader struct {
	store  storage.ObjectStore
	client *http.Client
	logger logging.Logger

	now   func() time.Time
	newID func() string
}

func NewDownloader(store storage.ObjectStore, client *http.Client, logger logging.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Downloader{
		store:  store,
		client: client,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// DownloadAll fetches every URL concurrently and settles all of them: one
// failed download never fails the gather, it just yields a failed result.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) []DownloadResult {
	results := make([]DownloadResult, len(urls))

	var wg sync.WaitGroup
	for i, imageURL := range urls {
		i, imageURL := i, imageURL
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := d.downloadOne(ctx, imageURL)
			results[i] = DownloadResult{URL: imageURL, Key: key, Err: err}
			if err != nil {
				d.logger.WithError(err).WithFields(logging.Fields{
					"url": imageURL,
				}).Warn("Dropped failed image download")
			}
		}()
	}
	wg.Wait()

	return results
}

// FulfilledKeys filters a settled gather down to the stored keys, keeping
// request order.
func FulfilledKeys(results []DownloadResult) []string {
	keys := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func (d *Downloader) downloadOne(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", imageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", imageURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", imageURL, err)
	}

	key := d.objectKey(imageURL)
	if err := d.store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// objectKey builds a dated key: YYYY/M/D/<uuid><ext>.
func (d *Downloader) objectKey(imageURL string) string {
	ext := ""
	if parsed, err := url.Parse(imageURL); err == nil {
		ext = path.Ext(parsed.Path)
	}

	now := d.now().UTC()
	return fmt.Sprintf("%d/%d/%d/%s%s", now.Year(), int(now.Month()), now.Day(), d.newID(), ext)
}
