package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sells-group/docpipe/internal/model"
)

// handleEvents streams a document's progress events over SSE until the
// terminal event, the broadcaster closing the document, or the client
// disconnecting. Heartbeats go out as SSE comments so they keep proxies
// alive without reaching client-side event handlers.
func handleEvents(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := env.Store.GetDocument(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := env.Broadcaster.Subscribe(id)
		defer env.Broadcaster.Unsubscribe(sub)

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-sub.Events():
				if !open {
					return
				}
				if ev.Type == model.EventHeartbeat {
					fmt.Fprint(w, ": heartbeat\n\n")
					flusher.Flush()
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
				if ev.Terminal() {
					return
				}
			}
		}
	}
}
