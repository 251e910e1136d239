package imageres

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"
)

type sourceKind int

const (
	sourceInline sourceKind = iota
	sourceSameOrigin
	sourceRemote
)

func (k sourceKind) String() string {
	switch k {
	case sourceInline:
		return "inline"
	case sourceSameOrigin:
		return "same_origin"
	default:
		return "remote"
	}
}

var errUnsupportedSource = errors.New("unsupported image source")

// classify sorts a candidate into inline data, same-origin storage or a
// remote URL. Relative paths are same-origin.
func (r *Resolver) classify(src string) (sourceKind, *url.URL, error) {
	if strings.HasPrefix(src, "data:") {
		return sourceInline, nil, nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errUnsupportedSource, err)
	}
	switch {
	case u.Scheme == "" && u.Host == "":
		if r.base != nil {
			u = r.base.ResolveReference(u)
		}
		return sourceSameOrigin, u, nil
	case u.Scheme == "http" || u.Scheme == "https":
		if r.base != nil && sameHost(u, r.base) {
			return sourceSameOrigin, u, nil
		}
		return sourceRemote, u, nil
	case u.Scheme == "" && u.Host != "":
		// protocol-relative
		scheme := "https"
		if r.base != nil {
			scheme = r.base.Scheme
		}
		u.Scheme = scheme
		if r.base != nil && sameHost(u, r.base) {
			return sourceSameOrigin, u, nil
		}
		return sourceRemote, u, nil
	}
	return 0, nil, fmt.Errorf("%w: scheme %q", errUnsupportedSource, u.Scheme)
}

// sameHost compares hosts in their ASCII form, ignoring default ports.
func sameHost(a, b *url.URL) bool {
	return hostKey(a) == hostKey(b)
}

func hostKey(u *url.URL) string {
	host, port := u.Hostname(), u.Port()
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	host = strings.ToLower(host)
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// parseDataURI decodes data:[<mediatype>][;base64],<data>.
func parseDataURI(src string, maxBytes int64) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, errors.New("data URI without payload")
	}
	var data []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+3 {
			return nil, fmt.Errorf("data URI exceeds %d bytes", maxBytes)
		}
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("data URI: %w", err)
		}
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("data URI: %w", err)
		}
		data = []byte(s)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("data URI exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// readStorage reads a same-origin path below root. Paths escaping root are
// rejected.
func readStorage(root string, u *url.URL, maxBytes int64) ([]byte, error) {
	clean := path.Clean("/" + u.Path)
	full := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("storage path %q escapes root", u.Path)
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", u.Path, maxBytes)
	}
	return os.ReadFile(full)
}
