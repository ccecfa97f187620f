package events

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events as server-sent events. Clients may
// restrict the stream to specific sessions via ?sessions=key1,key2.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var sessionFilter map[string]bool
		if q := r.URL.Query().Get("sessions"); q != "" {
			sessionFilter = make(map[string]bool)
			for _, s := range strings.Split(q, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sessionFilter[s] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if sessionFilter != nil && !sessionFilter[evt.SessionKey] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
