package transport

import "net/http"

type Handler interface {
	postMessage(w http.ResponseWriter, r *http.Request)
	listMessages(w http.ResponseWriter, r *http.Request)
	setView(w http.ResponseWriter, r *http.Request)
	cancelEffect(w http.ResponseWriter, r *http.Request)
	healthz(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h            Handler
	artifactsDir string
}

// NewRouter serves artifactsDir under /artifacts/ when it is set.
func NewRouter(h Handler, artifactsDir string) *router {
	return &router{h: h, artifactsDir: artifactsDir}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("POST /sessions/{id}/messages", r.h.postMessage)
	mux.HandleFunc("GET /sessions/{id}/messages", r.h.listMessages)
	mux.HandleFunc("PUT /sessions/{id}/view", r.h.setView)
	mux.HandleFunc("DELETE /sessions/{id}/effect", r.h.cancelEffect)
	mux.HandleFunc("GET /healthz", r.h.healthz)

	if r.artifactsDir != "" {
		mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(r.artifactsDir))))
	}

	return mux
}
