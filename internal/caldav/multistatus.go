package caldav

import (
	"context"
	"net/http"
	"sort"

	"github.com/beevik/etree"

	"informdav/internal/convert"
)

// multistatus accumulates WebDAV response elements and renders the
// final 207 document.
type multistatus struct {
	doc  *etree.Document
	root *etree.Element
}

func newMultistatus() *multistatus {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("D:multistatus")
	root.CreateAttr("xmlns:D", nsDAV)
	root.CreateAttr("xmlns:C", nsCalDAV)
	root.CreateAttr("xmlns:CS", nsCS)
	return &multistatus{doc: doc, root: root}
}

// addResource resolves the requested properties for one resource and
// appends its response element: found properties under a 200 propstat,
// the rest under a 404 propstat.
func (ms *multistatus) addResource(env *propEnv, names []propName, table map[propName]resolver) {
	response := ms.root.CreateElement("D:response")
	response.CreateElement("D:href").SetText(env.res.Href)

	var found []*etree.Element
	var missing []propName
	for _, name := range names {
		resolve, ok := table[name]
		if !ok {
			resolve = notFoundProp
		}
		result := resolve(env)
		if value, err := result.Get(); err == nil {
			found = append(found, value)
		} else {
			env.h.logger.Debug("property unresolved",
				"property", name.String(), "resource", env.res.Href, "error", err)
			missing = append(missing, name)
		}
	}
	// Stable output independent of map iteration order.
	sort.Slice(found, func(i, j int) bool { return found[i].Tag < found[j].Tag })
	sort.Slice(missing, func(i, j int) bool { return missing[i].Local < missing[j].Local })

	if len(found) > 0 {
		ps := response.CreateElement("D:propstat")
		prop := ps.CreateElement("D:prop")
		for _, el := range found {
			prop.AddChild(el)
		}
		ps.CreateElement("D:status").SetText("HTTP/1.1 200 OK")
	}
	if len(missing) > 0 {
		ps := response.CreateElement("D:propstat")
		prop := ps.CreateElement("D:prop")
		for _, name := range missing {
			prop.AddChild(elem(name.Space, name.Local))
		}
		ps.CreateElement("D:status").SetText("HTTP/1.1 404 Not Found")
	}
}

// addMissingResource appends a 404 response for an href that resolved
// to nothing, as calendar-multiget requires.
func (ms *multistatus) addMissingResource(href string) {
	response := ms.root.CreateElement("D:response")
	response.CreateElement("D:href").SetText(href)
	response.CreateElement("D:status").SetText("HTTP/1.1 404 Not Found")
}

func (ms *multistatus) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	ms.doc.Indent(2)
	ms.doc.WriteTo(w)
}

// objectEnv builds the resolver environment for an already-rendered
// object, so depth-1 listings and reports reuse the listing instead of
// re-fetching every event.
func (h *Handler) objectEnv(ctx context.Context, obj convert.Object) *propEnv {
	o := obj
	return &propEnv{
		h:      h,
		ctx:    ctx,
		res:    resource{Type: resourceObject, UID: obj.UID, Href: obj.Path},
		object: &o,
	}
}
