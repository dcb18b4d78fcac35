package client

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultAPIPrefix = "/api"

	unreadPath = "/notifications/unread"
	streamPath = "/notifications/stream"
)

// ResolveEndpoint joins apiBase, prefix and path. apiBase may be relative or
// absolute and may already end in prefix; the prefix is added only when it is
// missing, and scheme and host of an absolute base are kept.
//
//	ResolveEndpoint("https://x.io", "/api", "/notifications/stream")     // https://x.io/api/notifications/stream
//	ResolveEndpoint("https://x.io/api/", "/api", "/notifications/stream") // https://x.io/api/notifications/stream
//	ResolveEndpoint("", "/api", "/notifications/stream")                 // /api/notifications/stream
func ResolveEndpoint(apiBase, prefix, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("invalid API base %q: %w", apiBase, err)
	}

	basePath := strings.TrimRight(u.Path, "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix = "/" + prefix
		if !strings.HasSuffix(basePath, prefix) {
			basePath += prefix
		}
	}

	u.Path = basePath + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	return u.String(), nil
}
