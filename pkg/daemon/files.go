package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/metrics"
)

// Paths are passed to the daemon as given. Callers sanitize them.

// ListFiles lists a directory
func (c *Client) ListFiles(ctx context.Context, uuid, directory string) ([]FileObject, error) {
	var files []FileObject
	err := c.do(ctx, call{
		op:     "list_files",
		method: http.MethodGet,
		path:   serverPath(uuid, "files", "list-directory"),
		query:  url.Values{"directory": {directory}},
		out:    &files,
	})
	return files, err
}

// GetFileContents returns a file of at most maxBytes. Larger files are an
// InvalidArgument error rather than a truncated read.
func (c *Client) GetFileContents(ctx context.Context, uuid, file string, maxBytes int64) ([]byte, error) {
	return c.raw(ctx, "file_contents", http.MethodGet, serverPath(uuid, "files", "contents"),
		url.Values{"file": {file}}, nil, maxBytes)
}

// WriteFileContents replaces a file with content
func (c *Client) WriteFileContents(ctx context.Context, uuid, file string, content []byte) error {
	_, err := c.raw(ctx, "write_file", http.MethodPost, serverPath(uuid, "files", "write"),
		url.Values{"file": {file}}, content, 0)
	return err
}

// CreateDirectory creates name inside path
func (c *Client) CreateDirectory(ctx context.Context, uuid, name, path string) error {
	return c.do(ctx, call{
		op:     "create_directory",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "create-directory"),
		body:   map[string]string{"name": name, "path": path},
	})
}

// DeleteFiles deletes files under root
func (c *Client) DeleteFiles(ctx context.Context, uuid, root string, files []string) error {
	return c.do(ctx, call{
		op:     "delete_files",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "delete"),
		body:   map[string]interface{}{"root": root, "files": files},
	})
}

// RenameFiles moves each pair under root
func (c *Client) RenameFiles(ctx context.Context, uuid, root string, files []RenamePair) error {
	return c.do(ctx, call{
		op:     "rename_files",
		method: http.MethodPut,
		path:   serverPath(uuid, "files", "rename"),
		body:   map[string]interface{}{"root": root, "files": files},
	})
}

// CopyFile duplicates location next to itself
func (c *Client) CopyFile(ctx context.Context, uuid, location string) error {
	return c.do(ctx, call{
		op:     "copy_file",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "copy"),
		body:   map[string]string{"location": location},
	})
}

// CompressFiles archives files under root and returns the new archive
func (c *Client) CompressFiles(ctx context.Context, uuid, root string, files []string) (*FileObject, error) {
	var archive FileObject
	err := c.do(ctx, call{
		op:     "compress_files",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "compress"),
		body:   map[string]interface{}{"root": root, "files": files},
		out:    &archive,
	})
	if err != nil {
		return nil, err
	}
	return &archive, nil
}

// DecompressFile extracts file into root
func (c *Client) DecompressFile(ctx context.Context, uuid, root, file string) error {
	return c.do(ctx, call{
		op:     "decompress_file",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "decompress"),
		body:   map[string]string{"root": root, "file": file},
	})
}

// ChmodFiles changes file modes under root
func (c *Client) ChmodFiles(ctx context.Context, uuid, root string, files []ChmodEntry) error {
	return c.do(ctx, call{
		op:     "chmod_files",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "chmod"),
		body:   map[string]interface{}{"root": root, "files": files},
	})
}

// PullFile makes the daemon download a remote file into the server
func (c *Client) PullFile(ctx context.Context, uuid string, req PullRequest) error {
	return c.do(ctx, call{
		op:     "pull_file",
		method: http.MethodPost,
		path:   serverPath(uuid, "files", "pull"),
		body:   req,
	})
}

// GetFileDownloadURL returns a signed URL for downloading file
func (c *Client) GetFileDownloadURL(ctx context.Context, uuid, file string) (string, error) {
	var signed SignedURL
	err := c.do(ctx, call{
		op:     "file_download_url",
		method: http.MethodGet,
		path:   serverPath(uuid, "files", "download-url"),
		query:  url.Values{"file": {file}},
		out:    &signed,
	})
	return signed.URL, err
}

// GetFileUploadURL returns a signed URL for uploading into the server
func (c *Client) GetFileUploadURL(ctx context.Context, uuid string) (string, error) {
	var signed SignedURL
	err := c.do(ctx, call{
		op:     "file_upload_url",
		method: http.MethodGet,
		path:   serverPath(uuid, "files", "upload-url"),
		out:    &signed,
	})
	return signed.URL, err
}

// raw sends a non-JSON body and returns the raw response, for file
// contents. maxBytes of 0 discards the response body.
func (c *Client) raw(ctx context.Context, op, method, path string, query url.Values, body []byte, maxBytes int64) (out []byte, err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.DaemonRequestDuration, op)
		metrics.DaemonRequests.WithLabelValues(op, metrics.Outcome(err)).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errdefs.DaemonUnreachable(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var body errorBody
		_ = json.Unmarshal(raw, &body)

		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Daemon returned an error")
		return nil, errdefs.DaemonRPC(resp.StatusCode, body.message())
	}

	if maxBytes <= 0 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	out, err = io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, errdefs.DaemonUnreachable(c.baseURL, err)
	}
	if int64(len(out)) > maxBytes {
		return nil, errdefs.InvalidArgument("file too large: more than %d bytes", maxBytes)
	}
	return out, nil
}
