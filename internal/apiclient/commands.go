package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Downstream command paths exposed by the monitored apps.
const (
	PathHealth           = "/actuator/health"
	PathInfo             = "/actuator/info"
	PathMetrics          = "/actuator/metrics"
	PathProcessingStart  = "/api/processing/start"
	PathProcessingStop   = "/api/processing/stop"
	PathProcessingToggle = "/api/processing/toggle"
	PathUpload           = "/api/files/upload"
	PathProcessNow       = "/api/process-now"
	PathReprocess        = "/api/reprocess"
	PathReprocessAll     = "/api/reprocess-all"
	PathClearFlags       = "/api/clear"
)

const jsonContentType = "application/json"

var (
	fileListPaths   = []string{"/api/files", "/files", "/api/v1/files"}
	dirHintParams   = []string{"dir", "directory", "path", "baseDir"}
	dirHintMetaKeys = []string{"localStoragePath", "local-storage-path", "local_storage_path", "storagePath"}
	fileListKeys    = []string{"files", "items", "data", "entries"}
)

// ProxyResult is the downstream answer to a forwarded command.
type ProxyResult struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *ProxyResult) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into target.
func (r *ProxyResult) JSON(target interface{}) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, target)
}

// Text returns the body as a string.
func (r *ProxyResult) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Proxy forwards a command to app through the monitoring API. Downstream
// failures come back as statuses; only transport errors are returned.
func (c *Client) Proxy(ctx context.Context, app, method, path string, body io.Reader, contentType string) (*ProxyResult, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := c.newRequest(ctx, method, "/api/proxy/"+url.PathEscape(app)+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Del("Accept")
	if body != nil {
		if contentType == "" {
			contentType = jsonContentType
		}
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &ProxyResult{Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) proxyJSON(ctx context.Context, app, path string, payload interface{}) (*ProxyResult, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	return c.Proxy(ctx, app, http.MethodPost, path, body, jsonContentType)
}

// Health calls the app's health endpoint.
func (c *Client) Health(ctx context.Context, app string) (*ProxyResult, error) {
	return c.Proxy(ctx, app, http.MethodGet, PathHealth, nil, "")
}

// Info calls the app's info endpoint.
func (c *Client) Info(ctx context.Context, app string) (*ProxyResult, error) {
	return c.Proxy(ctx, app, http.MethodGet, PathInfo, nil, "")
}

// ActuatorMetrics calls the app's metrics endpoint.
func (c *Client) ActuatorMetrics(ctx context.Context, app string) (*ProxyResult, error) {
	return c.Proxy(ctx, app, http.MethodGet, PathMetrics, nil, "")
}

// StartProcessing asks the app to start consuming.
func (c *Client) StartProcessing(ctx context.Context, app string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathProcessingStart, nil)
}

// StopProcessing asks the app to stop consuming.
func (c *Client) StopProcessing(ctx context.Context, app string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathProcessingStop, nil)
}

// ToggleProcessing flips the app's processing state.
func (c *Client) ToggleProcessing(ctx context.Context, app string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathProcessingToggle, nil)
}

// ProcessNow asks the app to process the given files immediately.
func (c *Client) ProcessNow(ctx context.Context, app string, hashes []string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathProcessNow, map[string][]string{"fileHashes": hashes})
}

// Reprocess asks the app to reprocess the given files.
func (c *Client) Reprocess(ctx context.Context, app string, hashes []string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathReprocess, map[string][]string{"fileHashes": hashes})
}

// ReprocessAll asks the app to reprocess every file.
func (c *Client) ReprocessAll(ctx context.Context, app string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathReprocessAll, nil)
}

// ClearFlags asks the app to clear its processed markers.
func (c *Client) ClearFlags(ctx context.Context, app string) (*ProxyResult, error) {
	return c.proxyJSON(ctx, app, PathClearFlags, nil)
}

// UploadFile sends the file at path as a multipart "file" field.
func (c *Client) UploadFile(ctx context.Context, app, path string) (*ProxyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}
	return c.Proxy(ctx, app, http.MethodPost, PathUpload, &buf, form.FormDataContentType())
}

// FileEntry is one file reported by an app's file listing.
type FileEntry struct {
	Name   string                 `json:"name"`
	URL    string                 `json:"url,omitempty"`
	Hash   string                 `json:"hash,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// ListFiles probes the known listing endpoints, with the directory hint as a
// query parameter first when one is given, and returns the first usable list.
func (c *Client) ListFiles(ctx context.Context, app, dirHint string) ([]FileEntry, string, error) {
	var candidates []string
	if dirHint != "" {
		for _, p := range fileListPaths {
			for _, name := range dirHintParams {
				candidates = append(candidates, p+"?"+name+"="+url.QueryEscape(dirHint))
			}
		}
	}
	candidates = append(candidates, fileListPaths...)

	var lastErr error
	for _, path := range candidates {
		res, err := c.Proxy(ctx, app, http.MethodGet, path, nil, "")
		if err != nil {
			lastErr = err
			continue
		}
		if !res.OK() {
			lastErr = fmt.Errorf("%s: status %d", path, res.Status)
			continue
		}
		var raw interface{}
		if err := res.JSON(&raw); err != nil {
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		list, ok := fileList(raw)
		if !ok {
			lastErr = fmt.Errorf("%s: unrecognised listing shape", path)
			continue
		}
		return normalizeFiles(list), path, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no file listing endpoint answered")
	}
	return nil, "", lastErr
}

func fileList(raw interface{}) ([]interface{}, bool) {
	switch v := raw.(type) {
	case []interface{}:
		return v, true
	case map[string]interface{}:
		for _, key := range fileListKeys {
			if list, ok := v[key].([]interface{}); ok {
				return list, true
			}
		}
	}
	return nil, false
}

func normalizeFiles(list []interface{}) []FileEntry {
	out := make([]FileEntry, 0, len(list))
	for _, item := range list {
		fields, ok := item.(map[string]interface{})
		if !ok {
			if name, ok := item.(string); ok {
				out = append(out, FileEntry{Name: name})
			}
			continue
		}
		entry := FileEntry{Fields: fields}
		entry.Name, _ = fields["name"].(string)
		entry.URL, _ = fields["url"].(string)
		for _, key := range []string{"fileHash", "hash", "id"} {
			if h, ok := fields[key].(string); ok && h != "" {
				entry.Hash = h
				break
			}
		}
		if entry.URL != "" {
			if name := nameFromURL(entry.URL); name != "" {
				entry.Name = name
			}
		}
		out = append(out, entry)
	}
	return out
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := u.Path
	const marker = "/policies/"
	if idx := strings.Index(p, marker); idx >= 0 {
		return p[idx+len(marker):]
	}
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// DirHint picks a storage directory from instance metadata: a known key
// first, else the first value that looks like a path.
func DirHint(meta map[string]interface{}) string {
	for _, key := range dirHintMetaKeys {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := meta[k].(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(v, "/") || strings.HasPrefix(v, "hdfs://") || strings.HasPrefix(v, "file:/") {
			return v
		}
	}
	return ""
}
