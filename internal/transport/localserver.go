package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// LocalServerDownloader fetches oversized files through a self-hosted
// Bot API server. A local server speaks the same getFile protocol as the
// hosted API but without its download ceiling, so files the primary
// channel rejects with ErrFileTooBig are retried here.
type LocalServerDownloader struct {
	client *Client
}

// NewLocalServerDownloader creates a downloader against a self-hosted Bot
// API server at baseURL, authenticated with the same bot token as the
// primary channel.
func NewLocalServerDownloader(baseURL, token string) *LocalServerDownloader {
	return &LocalServerDownloader{client: New(baseURL, token)}
}

func (d *LocalServerDownloader) Download(ctx context.Context, file *FileRef, destPath string, progress ProgressFunc) error {
	var meta struct {
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	}
	if err := d.client.call(ctx, "getFile", map[string]any{"file_id": file.FileID}, &meta); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", d.client.baseURL, d.client.token, meta.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading file: unexpected status %d", resp.StatusCode)
	}

	total := meta.FileSize
	if total == 0 {
		total = file.Size
	}
	if total == 0 {
		total = resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	var done int64
	buf := make([]byte, 256<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", destPath, werr)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("reading download stream: %w", rerr)
		}
	}
	// When the size was unknown up front the loop never reported a final
	// update; emit one so throttled listeners always see completion.
	if progress != nil && done != total {
		progress(done, done)
	}
	return out.Close()
}
