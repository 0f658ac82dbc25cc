package workspace

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// TokenAuth returns HTTPS basic auth carrying a personal access token.
// GitHub accepts the token as the password for any non-empty username.
//
// Remotes that are not http(s), such as local paths and file:// URLs, need no
// credentials and get a nil AuthMethod.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func TokenAuth(remoteURL, username, token string) (transport.AuthMethod, error) {
	if token == "" {
		return nil, nil
	}

	if !strings.Contains(remoteURL, "://") {
		return nil, nil
	}

	parsed, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return nil, nil
	}

	if username == "" {
		username = "x-access-token"
	}

	return &http.BasicAuth{Username: username, Password: token}, nil
}
