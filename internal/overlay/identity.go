package overlay

import (
	"net/url"
	"strings"
)

// ComputeIdentity derives the cache key for a video source reference, which
// may be a filesystem path or a URL. The key is built from the last two path
// segments: "{namespace}.{parent}/{leaf}". References with fewer than two
// segments yield the empty Identity.
func ComputeIdentity(namespace, reference string) Identity {
	segs := pathSegments(reference)
	if len(segs) < 2 {
		return ""
	}
	parent, leaf := segs[len(segs)-2], segs[len(segs)-1]
	return Identity(namespace + "." + parent + "/" + leaf)
}

// pathSegments splits the path part of reference into its components. A
// leading root counts as a segment, so "/video.mp4" has two segments ("/"
// and "video.mp4").
func pathSegments(reference string) []string {
	p := reference
	if u, err := url.Parse(reference); err == nil && u.Scheme != "" {
		p = u.Path
		if p == "" {
			p = "/"
		}
		if u.Opaque != "" {
			p = u.Opaque
		}
	}
	if p == "" {
		return nil
	}

	var segs []string
	if strings.HasPrefix(p, "/") {
		segs = append(segs, "/")
	}
	for _, s := range strings.Split(p, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// leafName returns the last path segment of reference, used as the upload
// filename.
func leafName(reference string) string {
	segs := pathSegments(reference)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// referencePath returns the path portion of reference (the whole string for
// plain paths).
func referencePath(reference string) string {
	if u, err := url.Parse(reference); err == nil && u.Scheme != "" {
		return u.Path
	}
	return reference
}
