// Package drive uploads result artifacts to a Google Drive folder with
// overwrite-by-name semantics.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadResult identifies an uploaded file.
type UploadResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"webViewLink"`
}

// Client talks to the Drive v3 REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. baseURL is normally "https://www.googleapis.com";
// tests point it at a local server.
func New(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      accessToken,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
	}
}

// Upload pushes localPath into folderID, deleting any file of the same name
// there first so repeated uploads overwrite rather than accumulate.
func (c *Client) Upload(ctx context.Context, localPath, folderID string) (*UploadResult, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", localPath, err)
	}
	name := filepath.Base(localPath)

	if err := c.deleteExisting(ctx, name, folderID); err != nil {
		return nil, err
	}
	return c.create(ctx, name, folderID, data)
}

func (c *Client) deleteExisting(ctx context.Context, name, folderID string) error {
	query := fmt.Sprintf("name = '%s' and trashed = false", name)
	if folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", folderID)
	}

	listURL := fmt.Sprintf("%s/drive/v3/files?q=%s&spaces=drive&fields=files(id,name)",
		c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return fmt.Errorf("creating list request: %w", err)
	}

	var listing struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := c.do(req, &listing); err != nil {
		return fmt.Errorf("listing existing files: %w", err)
	}

	for _, f := range listing.Files {
		c.logger.Info("deleting existing drive file", "name", f.Name, "id", f.ID)
		deleteURL := fmt.Sprintf("%s/drive/v3/files/%s?supportsAllDrives=true", c.baseURL, f.ID)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
		if err != nil {
			return fmt.Errorf("creating delete request: %w", err)
		}
		if err := c.do(req, nil); err != nil {
			return fmt.Errorf("deleting file %s: %w", f.ID, err)
		}
	}
	return nil
}

func (c *Client) create(ctx context.Context, name, folderID string, data []byte) (*UploadResult, error) {
	metadata := map[string]any{"name": name}
	if folderID != "" {
		metadata["parents"] = []string{folderID}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/octet-stream")
	part, err = w.CreatePart(fileHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	uploadURL := fmt.Sprintf(
		"%s/upload/drive/v3/files?uploadType=multipart&fields=id,name,webViewLink&supportsAllDrives=true",
		c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+w.Boundary())

	var result UploadResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}
	c.logger.Info("uploaded file to drive", "name", result.Name, "id", result.ID)
	return &result, nil
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("drive API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
