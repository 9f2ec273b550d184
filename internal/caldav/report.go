package caldav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"

	"informdav/internal/backend"
	"informdav/internal/convert"
	"informdav/internal/upstream"
)

const layoutReportTime = "20060102T150405Z"

// findDescendant walks the element tree for the first descendant with
// the given local name, regardless of namespace prefix.
func findDescendant(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if localName(child.Tag) == local {
			return child
		}
		if found := findDescendant(child, local); found != nil {
			return found
		}
	}
	return nil
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, res resource) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		http.Error(w, "error parsing request body", http.StatusBadRequest)
		return
	}
	root := doc.Root()
	if root == nil {
		http.Error(w, "empty report body", http.StatusBadRequest)
		return
	}

	switch localName(root.Tag) {
	case "calendar-query":
		h.handleCalendarQuery(w, r, root)
	case "calendar-multiget":
		h.handleCalendarMultiget(w, r, root)
	default:
		h.logger.Debug("unsupported report", "type", root.Tag, "resource", res.Href)
		http.Error(w, "unsupported report type", http.StatusBadRequest)
	}
}

// requestedNames collects the prop children of the report's D:prop
// element; reports default to etag plus calendar data.
func requestedNames(root *etree.Element) []propName {
	for _, child := range root.ChildElements() {
		if localName(child.Tag) != "prop" {
			continue
		}
		var names []propName
		for _, p := range child.ChildElements() {
			names = append(names, propName{Space: p.NamespaceURI(), Local: localName(p.Tag)})
		}
		if len(names) > 0 {
			return names
		}
	}
	return []propName{
		{nsDAV, "getetag"},
		{nsCalDAV, "calendar-data"},
	}
}

// parseTimeRange finds a time-range filter anywhere under the query's
// filter element. A query without one queries the default window.
func parseTimeRange(root *etree.Element) (backend.SyncWindow, bool, error) {
	// Tag matching ignores the namespace prefix; clients differ on it.
	tr := findDescendant(root, "time-range")
	if tr == nil {
		return backend.SyncWindow{}, false, nil
	}

	var window backend.SyncWindow
	if start := tr.SelectAttrValue("start", ""); start != "" {
		t, err := time.Parse(layoutReportTime, start)
		if err != nil {
			return window, false, fmt.Errorf("bad time-range start %q", start)
		}
		window.Start = t
	}
	if end := tr.SelectAttrValue("end", ""); end != "" {
		t, err := time.Parse(layoutReportTime, end)
		if err != nil {
			return window, false, fmt.Errorf("bad time-range end %q", end)
		}
		window.End = t
	}
	if window.Start.IsZero() && window.End.IsZero() {
		return window, false, nil
	}
	// Open-ended ranges get a generous bound instead of querying the
	// upstream for all of history.
	if window.Start.IsZero() {
		window.Start = window.End.AddDate(-1, 0, 0)
	}
	if window.End.IsZero() {
		window.End = window.Start.AddDate(1, 0, 0)
	}
	return window, true, nil
}

func (h *Handler) handleCalendarQuery(w http.ResponseWriter, r *http.Request, root *etree.Element) {
	names := requestedNames(root)
	window, bounded, err := parseTimeRange(root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var objects []convert.Object
	if bounded {
		objects, err = h.provider.QueryRange(r.Context(), window)
	} else {
		objects, err = h.provider.List(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	ms := newMultistatus()
	table := h.resolvers(resourceObject)
	for _, obj := range objects {
		ms.addResource(h.objectEnv(r.Context(), obj), names, table)
	}
	ms.write(w)
}

func (h *Handler) handleCalendarMultiget(w http.ResponseWriter, r *http.Request, root *etree.Element) {
	names := requestedNames(root)

	ms := newMultistatus()
	table := h.resolvers(resourceObject)
	for _, child := range root.ChildElements() {
		if localName(child.Tag) != "href" {
			continue
		}
		href := child.Text()
		res, err := h.parsePath(href)
		if err != nil || res.Type != resourceObject {
			ms.addMissingResource(href)
			continue
		}
		obj, err := h.provider.Get(r.Context(), res.UID)
		if err != nil {
			var nf *upstream.NotFoundError
			if errors.As(err, &nf) {
				ms.addMissingResource(href)
				continue
			}
			h.writeError(w, err)
			return
		}
		ms.addResource(h.objectEnv(r.Context(), *obj), names, table)
	}
	ms.write(w)
}
