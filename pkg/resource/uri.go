package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURI is returned when a resource URI carries no uuid segment.
var ErrInvalidURI = errors.New("invalid resource uri")

// ExtractUUID returns the uuid embedded in a resource URI. Resource URIs end
// with a slash, so the uuid is the second-to-last "/"-delimited segment:
//
//	/api/app/v1/action/7c42003e-eb39-4adc-b5b9-cbb7607fc698/ -> 7c42003e-eb39-4adc-b5b9-cbb7607fc698
//
// A URI without the trailing slash yields its last segment.
func ExtractUUID(uri string) string {
	tokens := strings.Split(uri, "/")
	if len(tokens) < 2 {
		return ""
	}
	if id := tokens[len(tokens)-1]; id != "" {
		return id
	}
	return tokens[len(tokens)-2]
}

// ParseUUID is ExtractUUID with an error for URIs that carry no uuid.
func ParseUUID(uri string) (string, error) {
	id := ExtractUUID(strings.TrimSpace(uri))
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return id, nil
}

// ContainsUUID reports whether uuid is one of the path segments of uri.
func ContainsUUID(uri, uuid string) bool {
	if uuid == "" {
		return false
	}
	for _, seg := range strings.Split(uri, "/") {
		if seg == uuid {
			return true
		}
	}
	return false
}
