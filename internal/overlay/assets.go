package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrSourceNotAllowed is returned for references outside the media root or
// on a host that is not allow-listed. Nothing is read or uploaded for them.
var ErrSourceNotAllowed = errors.New("source reference not allowed")

// SourceReader reads source assets below Root on the local filesystem or,
// for http and https references, from AllowedHosts. The zero value reads
// nothing.
type SourceReader struct {
	Root         string
	AllowedHosts []string
	Client       *http.Client
}

// ReadAsset implements AssetReader.
func (s SourceReader) ReadAsset(ctx context.Context, reference string) ([]byte, error) {
	u, err := url.Parse(reference)
	if err != nil || u.Scheme == "" {
		return s.readLocal(reference)
	}

	switch u.Scheme {
	case "file":
		return s.readLocal(u.Path)
	case "http", "https":
		if !s.hostAllowed(u.Hostname()) {
			return nil, fmt.Errorf("%w: host %q", ErrSourceNotAllowed, u.Hostname())
		}
		return s.readRemote(ctx, reference)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrSourceNotAllowed, u.Scheme)
	}
}

// readLocal resolves p inside Root. Relative paths are taken from Root,
// absolute ones must already lie below it. Symlinks are followed before the
// check.
func (s SourceReader) readLocal(p string) ([]byte, error) {
	if s.Root == "" {
		return nil, fmt.Errorf("%w: no media root configured", ErrSourceNotAllowed)
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}

	full := filepath.Clean(p)
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	if !within(root, full) && !within(realRoot, full) {
		return nil, fmt.Errorf("%w: %s is outside the media root", ErrSourceNotAllowed, p)
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil, err
	}
	if !within(realRoot, resolved) {
		return nil, fmt.Errorf("%w: %s links outside the media root", ErrSourceNotAllowed, p)
	}
	return os.ReadFile(resolved)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s SourceReader) hostAllowed(host string) bool {
	return slices.ContainsFunc(s.AllowedHosts, func(h string) bool {
		return strings.EqualFold(h, host)
	})
}

func (s SourceReader) readRemote(ctx context.Context, reference string) ([]byte, error) {
	client := http.Client{}
	if s.Client != nil {
		client = *s.Client
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !s.hostAllowed(req.URL.Hostname()) {
			return fmt.Errorf("%w: redirect to host %q", ErrSourceNotAllowed, req.URL.Hostname())
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read asset: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var _ AssetReader = SourceReader{}
