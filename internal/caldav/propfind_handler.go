package caldav

import (
	"io"
	"net/http"
)

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, res resource) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	table := h.resolvers(res.Type)
	names, err := parsePropfindBody(body, table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	depth := r.Header.Get("Depth")
	if depth == "" {
		depth = "0"
	}

	ms := newMultistatus()
	env := &propEnv{h: h, ctx: r.Context(), res: res}
	ms.addResource(env, names, table)

	// Depth 1 on the collection also answers for its objects. The
	// requested names stay the same; object-inapplicable ones land in
	// the 404 propstat per resource.
	if res.Type == resourceCollection && depth != "0" {
		objects, err := h.provider.List(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		objectTable := h.resolvers(resourceObject)
		for _, obj := range objects {
			ms.addResource(h.objectEnv(r.Context(), obj), names, objectTable)
		}
	}
	if res.Type == resourceRoot && depth != "0" {
		colRes := resource{Type: resourceCollection, Href: h.provider.CollectionPath()}
		ms.addResource(&propEnv{h: h, ctx: r.Context(), res: colRes}, names, h.resolvers(resourceCollection))
	}

	ms.write(w)
}
