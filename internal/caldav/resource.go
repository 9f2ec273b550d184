package caldav

import (
	"fmt"
	"net/url"
	"strings"
)

// resourceType classifies the path a request addresses.
type resourceType int

const (
	resourceRoot resourceType = iota
	resourceCollection
	resourceObject
)

func (t resourceType) String() string {
	switch t {
	case resourceRoot:
		return "root"
	case resourceCollection:
		return "collection"
	default:
		return "object"
	}
}

// resource is one parsed request target.
type resource struct {
	Type resourceType
	UID  string // object UID, only for resourceObject
	Href string // absolute URL path of the resource
}

// parsePath resolves an absolute request path against the handler's
// prefix and collection path. Recognized shapes:
//
//	<prefix>                     root / principal
//	<collection>/                the calendar collection
//	<collection>/<uid>.ics       one event
func (h *Handler) parsePath(path string) (resource, error) {
	collection := h.provider.CollectionPath()

	if strings.TrimSuffix(path, "/")+"/" == collection {
		return resource{Type: resourceCollection, Href: collection}, nil
	}
	if strings.HasPrefix(path, collection) {
		rest := strings.TrimPrefix(path, collection)
		if rest == "" {
			return resource{Type: resourceCollection, Href: collection}, nil
		}
		if strings.Contains(rest, "/") {
			return resource{}, fmt.Errorf("no nested resources under %s", collection)
		}
		name := strings.TrimSuffix(rest, ".ics")
		if name == rest || name == "" {
			return resource{}, fmt.Errorf("object resources end in .ics")
		}
		uid, err := url.PathUnescape(name)
		if err != nil {
			return resource{}, fmt.Errorf("bad object name %q", rest)
		}
		return resource{Type: resourceObject, UID: uid, Href: path}, nil
	}

	// Ancestors of the collection (the service root, principal, home
	// set) all answer as the root resource.
	normalized := strings.TrimSuffix(path, "/") + "/"
	if strings.HasPrefix(collection, normalized) {
		return resource{Type: resourceRoot, Href: normalized}, nil
	}
	return resource{}, fmt.Errorf("unknown resource path %q", path)
}
