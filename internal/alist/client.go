// Package alist implements a thin typed client for an Alist-style cloud
// filesystem HTTP API: authenticated directory listing, per-entry URL
// resolution, and a cache-invalidating re-list used to work around the
// remote's own listing cache.
package alist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnauthorized is returned when the remote rejects our credentials.
var ErrUnauthorized = errors.New("alist: unauthorized")

// Client talks to one Alist-style server.
type Client struct {
	BaseURL  string
	Username string
	Password string

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient builds a client for one remote server. If token is non-empty it
// is used directly; otherwise username/password are exchanged for a token
// lazily, on first use.
func NewClient(baseURL, username, password, token string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type listRequest struct {
	Path     string `json:"path"`
	Password string `json:"password,omitempty"`
	Refresh  bool   `json:"refresh"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
}

type listContent struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified string `json:"modified"`
	Sign     string `json:"sign"`
	RawURL   string `json:"raw_url"`
}

type listResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Content []listContent `json:"content"`
		Total   int           `json:"total"`
	} `json:"data"`
}

type getDetailResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RawURL string `json:"raw_url"`
	} `json:"data"`
}

// List lists one directory. refresh instructs the remote to bypass its own
// listing cache. detail requests per-entry origin URLs, costing one extra
// request per file entry.
func (c *Client) List(ctx context.Context, dir string, refresh, detail bool) ([]Entry, error) {
	body := listRequest{Path: dir, Refresh: refresh, Page: 1, PerPage: 0}
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/fs/list", body, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if resp.Code == 401 {
		return nil, ErrUnauthorized
	}
	if resp.Code != 200 {
		return nil, errors.Newf("alist: list %s: %s", dir, resp.Message)
	}

	entries := make([]Entry, 0, len(resp.Data.Content))
	for _, item := range resp.Data.Content {
		entryPath := path.Join(dir, item.Name)
		modified, _ := time.Parse(time.RFC3339, item.Modified)

		entry := Entry{
			Name:       item.Name,
			Path:       entryPath,
			IsDir:      item.IsDir,
			Size:       item.Size,
			ModifiedAt: modified,
			Suffix:     strings.ToLower(path.Ext(item.Name)),
		}
		entry.DownloadURL = c.downloadURL(entryPath, item.Sign)
		entry.RawURL = item.RawURL

		if detail && !item.IsDir && entry.RawURL == "" {
			rawURL, err := c.getDetail(ctx, entryPath)
			if err != nil {
				return nil, err
			}
			entry.RawURL = rawURL
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) getDetail(ctx context.Context, entryPath string) (string, error) {
	body := listRequest{Path: entryPath}
	var resp getDetailResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/fs/get", body, &resp); err != nil {
		return "", err
	}
	if resp.Code == 401 {
		return "", ErrUnauthorized
	}
	if resp.Code != 200 {
		return "", errors.Newf("alist: get %s: %s", entryPath, resp.Message)
	}
	return resp.Data.RawURL, nil
}

func (c *Client) downloadURL(entryPath, sign string) string {
	u := c.BaseURL + "/d" + entryPath
	if sign == "" {
		return u
	}
	return u + "?sign=" + url.QueryEscape(sign)
}

// IterPath depth-first traverses root, yielding every entry for which
// filter returns true. Directories are always recursed into regardless of
// the filter's verdict, but are never themselves yielded. filter is called
// exactly once per entry. Traversal stops and yields an error if listing
// any directory fails.
func (c *Client) IterPath(ctx context.Context, root string, detail bool, filter func(Entry) bool) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		c.walk(ctx, root, detail, filter, yield)
	}
}

func (c *Client) walk(ctx context.Context, dir string, detail bool, filter func(Entry) bool, yield func(Entry, error) bool) bool {
	entries, err := c.List(ctx, dir, false, detail)
	if err != nil {
		yield(Entry{}, err)
		return false
	}

	for _, entry := range entries {
		if entry.IsDir {
			filter(entry)
			if !c.walk(ctx, entry.Path, detail, filter, yield) {
				return false
			}
			continue
		}
		if filter(entry) {
			if !yield(entry, nil) {
				return false
			}
		}
	}
	return true
}

// RefreshTree works around the remote's listing-cache eventual consistency
// after an external change: it force-refreshes base, and if base+sub
// appears among base's children, recursively force-refreshes every
// directory under base+sub too.
func (c *Client) RefreshTree(ctx context.Context, base, sub string) error {
	children, err := c.List(ctx, base, true, false)
	if err != nil {
		return err
	}

	target := path.Join(base, sub)
	found := false
	for _, child := range children {
		if child.Path == target {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	return c.refreshDir(ctx, target)
}

func (c *Client) refreshDir(ctx context.Context, dir string) error {
	children, err := c.List(ctx, dir, true, false)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsDir {
			if err := c.refreshDir(ctx, child.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

var errNotFound = errors.New("alist: not found")

func (c *Client) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body := map[string]string{"username": c.Username, "password": c.Password}
	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "alist: marshal login body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/login", bytes.NewReader(buf))
	if err != nil {
		return "", errors.Wrap(err, "alist: build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "alist: login")
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", errors.Wrap(err, "alist: decode login response")
	}
	if resp.Code != 200 {
		return "", errors.Newf("alist: login failed: %s", resp.Message)
	}

	c.token = resp.Data.Token
	return c.token, nil
}

func (c *Client) doJSON(ctx context.Context, method, pathSuffix string, body, out any) error {
	token := c.token
	if token == "" && c.Password != "" {
		var err error
		token, err = c.login(ctx)
		if err != nil {
			return err
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "alist: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+pathSuffix, bytes.NewReader(buf))
	if err != nil {
		return errors.Wrap(err, "alist: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("alist: %s %s", method, pathSuffix))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "alist: decode response")
	}
	return nil
}
