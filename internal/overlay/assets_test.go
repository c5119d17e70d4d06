package overlay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeMedia(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSourceReader_local_file(t *testing.T) {
	root := t.TempDir()
	path := writeMedia(t, root, "lesson/clip.mp4", "frames")
	r := SourceReader{Root: root}
	ctx := context.Background()

	for _, ref := range []string{path, "file://" + path, "lesson/clip.mp4", "./lesson/../lesson/clip.mp4"} {
		data, err := r.ReadAsset(ctx, ref)
		require.NoError(t, err, ref)
		require.Equal(t, "frames", string(data), ref)
	}

	_, err := r.ReadAsset(ctx, "lesson/missing.mp4")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSourceReader_rejects_outside_root(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "media")
	require.NoError(t, os.Mkdir(root, 0o755))
	secret := writeMedia(t, parent, "secret.key", "private")
	r := SourceReader{Root: root}
	ctx := context.Background()

	for _, ref := range []string{
		secret,
		"../secret.key",
		"lesson/../../secret.key",
		"file://" + secret,
		"/etc/passwd",
		"ftp://host/clip.mp4",
	} {
		_, err := r.ReadAsset(ctx, ref)
		require.ErrorIs(t, err, ErrSourceNotAllowed, ref)
	}

	t.Run("symlink_escape", func(t *testing.T) {
		link := filepath.Join(root, "lesson.mp4")
		if err := os.Symlink(secret, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		_, err := r.ReadAsset(ctx, "lesson.mp4")
		require.ErrorIs(t, err, ErrSourceNotAllowed)
	})

	t.Run("no_root", func(t *testing.T) {
		_, err := SourceReader{}.ReadAsset(ctx, secret)
		require.ErrorIs(t, err, ErrSourceNotAllowed)
	})
}

func TestSourceReader_remote_allow_list(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "http://169.254.169.254/latest/meta-data", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("remote-frames"))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = SourceReader{}.ReadAsset(ctx, srv.URL+"/v/clip.mp4")
	require.ErrorIs(t, err, ErrSourceNotAllowed)

	r := SourceReader{AllowedHosts: []string{u.Hostname()}, Client: srv.Client()}
	data, err := r.ReadAsset(ctx, srv.URL+"/v/clip.mp4")
	require.NoError(t, err)
	require.Equal(t, "remote-frames", string(data))

	_, err = r.ReadAsset(ctx, srv.URL+"/redirect")
	require.ErrorIs(t, err, ErrSourceNotAllowed)
}
