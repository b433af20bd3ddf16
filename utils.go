package halcyon

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseActionURI splits a hal://creator/collection/rkey URI into its parts.
func ParseActionURI(uriString string) (string, string, string, error) {
	uri, err := url.Parse(uriString)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid uri")
	}

	if uri.Scheme != "hal" {
		return "", "", "", fmt.Errorf("unsupported uri scheme")
	}

	creator := uri.Host
	parts := strings.SplitN(strings.TrimPrefix(uri.Path, "/"), "/", 2)
	if creator == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("malformed action uri")
	}

	return creator, parts[0], parts[1], nil
}

func ComposeActionURI(creator, collection, rkey string) string {
	u := &url.URL{
		Scheme: "hal",
		Host:   creator,
		Path:   "/" + collection + "/" + rkey,
	}
	return u.String()
}

// OwnerOf returns the identity that owns the resource behind a hal URI.
func OwnerOf(uriString string) (string, error) {
	uri, err := url.Parse(uriString)
	if err != nil {
		return "", fmt.Errorf("invalid uri")
	}
	if uri.Scheme != "hal" {
		return "", fmt.Errorf("unsupported uri scheme")
	}
	if uri.Host == "" {
		return "", fmt.Errorf("malformed uri")
	}
	return uri.Host, nil
}
