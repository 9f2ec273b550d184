package caldav

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"informdav/internal/convert"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
	nsCS     = "http://calendarserver.org/ns/"
)

// propName identifies one requested property by namespace and local
// name.
type propName struct {
	Space string
	Local string
}

func (p propName) String() string { return p.Space + ":" + p.Local }

// propEnv carries what resolvers need: the target resource, the object
// behind it (when preloaded by the caller), and lazily listed
// collection contents.
type propEnv struct {
	h       *Handler
	ctx     context.Context
	res     resource
	object  *convert.Object
	listing []convert.Object
	listed  bool
}

// resolver produces one property element, or an error that turns into a
// 404 propstat for that property.
type resolver func(env *propEnv) mo.Result[*etree.Element]

var errPropNotFound = fmt.Errorf("property not applicable")

func notFoundProp(*propEnv) mo.Result[*etree.Element] {
	return mo.Err[*etree.Element](errPropNotFound)
}

func elem(space, local string) *etree.Element {
	e := etree.NewElement(local)
	e.Space = prefixFor(space)
	return e
}

func prefixFor(space string) string {
	switch space {
	case nsDAV:
		return "D"
	case nsCalDAV:
		return "C"
	case nsCS:
		return "CS"
	default:
		return ""
	}
}

func textElem(space, local, text string) *etree.Element {
	e := elem(space, local)
	e.SetText(text)
	return e
}

func hrefElem(space, local, href string) *etree.Element {
	e := elem(space, local)
	e.AddChild(textElem(nsDAV, "href", href))
	return e
}

// resolvers returns the property table for a resource type. Properties
// absent from the table answer 404.
func (h *Handler) resolvers(t resourceType) map[propName]resolver {
	switch t {
	case resourceRoot:
		return map[propName]resolver{
			{nsDAV, "resourcetype"}: func(env *propEnv) mo.Result[*etree.Element] {
				rt := elem(nsDAV, "resourcetype")
				rt.AddChild(elem(nsDAV, "collection"))
				rt.AddChild(elem(nsDAV, "principal"))
				return mo.Ok(rt)
			},
			{nsDAV, "displayname"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(textElem(nsDAV, "displayname", "informdav"))
			},
			{nsDAV, "current-user-principal"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(hrefElem(nsDAV, "current-user-principal", env.h.prefix))
			},
			{nsCalDAV, "calendar-home-set"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(hrefElem(nsCalDAV, "calendar-home-set", env.h.provider.CollectionPath()))
			},
		}

	case resourceCollection:
		return map[propName]resolver{
			{nsDAV, "resourcetype"}: func(env *propEnv) mo.Result[*etree.Element] {
				rt := elem(nsDAV, "resourcetype")
				rt.AddChild(elem(nsDAV, "collection"))
				rt.AddChild(elem(nsCalDAV, "calendar"))
				return mo.Ok(rt)
			},
			{nsDAV, "displayname"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(textElem(nsDAV, "displayname", "Appointments"))
			},
			{nsDAV, "current-user-principal"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(hrefElem(nsDAV, "current-user-principal", env.h.prefix))
			},
			{nsCalDAV, "supported-calendar-component-set"}: func(env *propEnv) mo.Result[*etree.Element] {
				set := elem(nsCalDAV, "supported-calendar-component-set")
				comp := elem(nsCalDAV, "comp")
				comp.CreateAttr("name", "VEVENT")
				set.AddChild(comp)
				return mo.Ok(set)
			},
			{nsCS, "getctag"}: func(env *propEnv) mo.Result[*etree.Element] {
				tag, err := env.collectionTag()
				if err != nil {
					return mo.Err[*etree.Element](err)
				}
				return mo.Ok(textElem(nsCS, "getctag", tag))
			},
		}

	default: // resourceObject
		return map[propName]resolver{
			{nsDAV, "resourcetype"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(elem(nsDAV, "resourcetype"))
			},
			{nsDAV, "getetag"}: func(env *propEnv) mo.Result[*etree.Element] {
				obj, err := env.getObject()
				if err != nil {
					return mo.Err[*etree.Element](err)
				}
				return mo.Ok(textElem(nsDAV, "getetag", obj.ETag))
			},
			{nsDAV, "getcontenttype"}: func(env *propEnv) mo.Result[*etree.Element] {
				return mo.Ok(textElem(nsDAV, "getcontenttype", "text/calendar; charset=utf-8"))
			},
			{nsDAV, "getlastmodified"}: func(env *propEnv) mo.Result[*etree.Element] {
				obj, err := env.getObject()
				if err != nil {
					return mo.Err[*etree.Element](err)
				}
				return mo.Ok(textElem(nsDAV, "getlastmodified", obj.LastModified.UTC().Format(http.TimeFormat)))
			},
			{nsCalDAV, "calendar-data"}: func(env *propEnv) mo.Result[*etree.Element] {
				obj, err := env.getObject()
				if err != nil {
					return mo.Err[*etree.Element](err)
				}
				return mo.Ok(textElem(nsCalDAV, "calendar-data", string(obj.Body)))
			},
		}
	}
}

func (e *propEnv) getObject() (*convert.Object, error) {
	if e.object != nil {
		return e.object, nil
	}
	obj, err := e.h.provider.Get(e.ctx, e.res.UID)
	if err != nil {
		return nil, err
	}
	e.object = obj
	return obj, nil
}

// collectionTag derives the ctag from the window's object ETags, so it
// changes whenever any visible event changes.
func (e *propEnv) collectionTag() (string, error) {
	if !e.listed {
		objects, err := e.h.provider.List(e.ctx)
		if err != nil {
			return "", err
		}
		e.listing = objects
		e.listed = true
	}
	hash := sha1.New()
	for _, obj := range e.listing {
		hash.Write([]byte(obj.ETag))
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// parsePropfindBody extracts the requested property names. An empty or
// allprop body requests every property the resource supports.
func parsePropfindBody(body []byte, supported map[propName]resolver) ([]propName, error) {
	if len(body) == 0 {
		return allProps(supported), nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse propfind body: %w", err)
	}
	root := doc.Root()
	if root == nil || localName(root.Tag) != "propfind" {
		return nil, fmt.Errorf("expected propfind root element")
	}
	for _, child := range root.ChildElements() {
		switch localName(child.Tag) {
		case "allprop", "propname":
			return allProps(supported), nil
		case "prop":
			var names []propName
			for _, p := range child.ChildElements() {
				names = append(names, propName{Space: p.NamespaceURI(), Local: localName(p.Tag)})
			}
			return names, nil
		}
	}
	return allProps(supported), nil
}

func allProps(supported map[propName]resolver) []propName {
	names := make([]propName, 0, len(supported))
	for name := range supported {
		// calendar-data is only ever returned from REPORT requests.
		if name.Local == "calendar-data" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func localName(tag string) string {
	if idx := strings.Index(tag, ":"); idx != -1 {
		return tag[idx+1:]
	}
	return tag
}
