package dfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/transport"
)

// WebHDFS talks to the namespace service's REST gateway.
type WebHDFS struct {
	base *url.URL
	user string
	http *retryablehttp.Client
}

// NewWebHDFS returns a client for base (e.g. http://namenode:50070/webhdfs/v1)
// acting as user. The HTTP client must not follow redirects.
func NewWebHDFS(base, user string, hc *retryablehttp.Client) (*WebHDFS, error) {
	if base == "" {
		return nil, fault.Configuration.New("webhdfs url cannot be empty")
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fault.Configuration.New("invalid webhdfs url %q: %v", base, err)
	}
	if user == "" {
		return nil, fault.Configuration.New("webhdfs user cannot be empty")
	}
	return &WebHDFS{base: u, user: user, http: hc}, nil
}

type fileStatus struct {
	Owner      string `json:"owner"`
	Group      string `json:"group"`
	Permission string `json:"permission"`
	Type       string `json:"type"`
	Length     int64  `json:"length"`
}

type remoteException struct {
	RemoteException struct {
		Exception     string `json:"exception"`
		JavaClassName string `json:"javaClassName"`
		Message       string `json:"message"`
	} `json:"RemoteException"`
}

func (w *WebHDFS) endpoint(path, op string, params url.Values) string {
	u := *w.base
	u.Path = u.Path + "/" + strings.TrimPrefix(path, "/")
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("op", op)
	q.Set("user.name", w.user)
	u.RawQuery = q.Encode()
	return u.String()
}

// call runs one request and decodes a JSON response into out (when non-nil).
func (w *WebHDFS) call(ctx context.Context, method, path, op string, params url.Values, out any) error {
	resp, err := w.do(ctx, method, w.endpoint(path, op, params), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", op, path, err)
	}
	return nil
}

func (w *WebHDFS) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var rb any
	if body != nil {
		rb = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, rb)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, transport.Classify(err)
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var re remoteException
	if err := json.Unmarshal(body, &re); err == nil && re.RemoteException.Exception != "" {
		return &RemoteError{
			Exception: re.RemoteException.Exception,
			ClassName: re.RemoteException.JavaClassName,
			Message:   re.RemoteException.Message,
		}
	}
	err := fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(body))
	if resp.StatusCode >= 500 {
		return fault.Connectivity.Wrap(err)
	}
	return err
}

// Stat implements FileSystem.
func (w *WebHDFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	var out struct {
		FileStatus fileStatus `json:"FileStatus"`
	}
	if err := w.call(ctx, http.MethodGet, path, "GETFILESTATUS", nil, &out); err != nil {
		return nil, err
	}
	perm, err := strconv.ParseUint(out.FileStatus.Permission, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("GETFILESTATUS %s: bad permission %q", path, out.FileStatus.Permission)
	}
	return &FileInfo{
		Path:       path,
		Owner:      out.FileStatus.Owner,
		Group:      out.FileStatus.Group,
		Permission: os.FileMode(perm),
		IsDir:      out.FileStatus.Type == "DIRECTORY",
		Length:     out.FileStatus.Length,
	}, nil
}

func octal(perm os.FileMode) string {
	return strconv.FormatUint(uint64(perm.Perm()), 8)
}

// Mkdirs implements FileSystem.
func (w *WebHDFS) Mkdirs(ctx context.Context, path string, perm os.FileMode) error {
	var out struct {
		Boolean bool `json:"boolean"`
	}
	if err := w.call(ctx, http.MethodPut, path, "MKDIRS", url.Values{"permission": {octal(perm)}}, &out); err != nil {
		return err
	}
	if !out.Boolean {
		return fmt.Errorf("MKDIRS %s: not created", path)
	}
	return nil
}

// SetOwner implements FileSystem.
func (w *WebHDFS) SetOwner(ctx context.Context, path, owner, group string) error {
	params := url.Values{}
	if owner != "" {
		params.Set("owner", owner)
	}
	if group != "" {
		params.Set("group", group)
	}
	return w.call(ctx, http.MethodPut, path, "SETOWNER", params, nil)
}

// SetPermission implements FileSystem.
func (w *WebHDFS) SetPermission(ctx context.Context, path string, perm os.FileMode) error {
	return w.call(ctx, http.MethodPut, path, "SETPERMISSION", url.Values{"permission": {octal(perm)}}, nil)
}

// ModifyACL implements FileSystem.
func (w *WebHDFS) ModifyACL(ctx context.Context, path string, entries []ACLEntry) error {
	return w.call(ctx, http.MethodPut, path, "MODIFYACLENTRIES", url.Values{"aclspec": {ACLSpec(entries)}}, nil)
}

// GetXAttr implements FileSystem.
func (w *WebHDFS) GetXAttr(ctx context.Context, path, name string) ([]byte, error) {
	var out struct {
		XAttrs []struct {
			Name  string  `json:"name"`
			Value *string `json:"value"`
		} `json:"XAttrs"`
	}
	if err := w.call(ctx, http.MethodGet, path, "GETXATTRS", url.Values{"encoding": {"base64"}}, &out); err != nil {
		return nil, err
	}
	for _, x := range out.XAttrs {
		if x.Name != name {
			continue
		}
		if x.Value == nil {
			return []byte{}, nil
		}
		return decodeXAttr(*x.Value)
	}
	return nil, ErrNoXAttr
}

// decodeXAttr decodes the 0s (base64), 0x (hex) or quoted text encodings.
func decodeXAttr(v string) ([]byte, error) {
	switch {
	case strings.HasPrefix(v, "0s"):
		return base64.StdEncoding.DecodeString(v[2:])
	case strings.HasPrefix(v, "0x"):
		return hex.DecodeString(v[2:])
	case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
		return []byte(v[1 : len(v)-1]), nil
	default:
		return []byte(v), nil
	}
}

// SetXAttr implements FileSystem.
func (w *WebHDFS) SetXAttr(ctx context.Context, path, name string, value []byte) error {
	_, err := w.GetXAttr(ctx, path, name)
	flag := "REPLACE"
	if errors.Is(err, ErrNoXAttr) {
		flag = "CREATE"
	} else if err != nil {
		return err
	}
	return w.call(ctx, http.MethodPut, path, "SETXATTR", url.Values{
		"xattr.name":  {name},
		"xattr.value": {"0s" + base64.StdEncoding.EncodeToString(value)},
		"flag":        {flag},
	}, nil)
}

// RemoveXAttr implements FileSystem.
func (w *WebHDFS) RemoveXAttr(ctx context.Context, path, name string) error {
	return w.call(ctx, http.MethodPut, path, "REMOVEXATTR", url.Values{"xattr.name": {name}}, nil)
}

// ReadFile implements FileSystem.
func (w *WebHDFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := w.redirected(ctx, http.MethodGet, w.endpoint(path, "OPEN", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("OPEN %s: %w", path, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Create implements FileSystem.
func (w *WebHDFS) Create(ctx context.Context, path string, data []byte, perm os.FileMode, overwrite bool) error {
	target := w.endpoint(path, "CREATE", url.Values{
		"overwrite":  {strconv.FormatBool(overwrite)},
		"permission": {octal(perm)},
	})
	resp, err := w.redirected(ctx, http.MethodPut, target, data)
	if err != nil {
		return fmt.Errorf("CREATE %s: %w", path, err)
	}
	resp.Body.Close()
	return nil
}

// redirected performs the two step WebHDFS data transfer: the namenode
// answers with a redirect to a datanode which receives the actual request.
func (w *WebHDFS) redirected(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	resp, err := w.do(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusFound {
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, fmt.Errorf("redirect without location")
		}
		loc, err := resp.Request.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("bad redirect location %q: %w", location, err)
		}
		if resp, err = w.do(ctx, method, loc.String(), body); err != nil {
			return nil, err
		}
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// Delete implements FileSystem.
func (w *WebHDFS) Delete(ctx context.Context, path string, recursive bool) error {
	var out struct {
		Boolean bool `json:"boolean"`
	}
	return w.call(ctx, http.MethodDelete, path, "DELETE", url.Values{"recursive": {strconv.FormatBool(recursive)}}, &out)
}
