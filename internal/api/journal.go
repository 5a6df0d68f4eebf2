package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleJournalList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", 50)

	if taskID := r.URL.Query().Get("task"); taskID != "" {
		entries, err := s.journal.ByTask(ctx, taskID, limit)
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		writeJSON(w, 200, entries)
		return
	}

	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, entries)
}

// handleJournalStream pushes new journal entries as server-sent events.
// ?task= limits the stream to one task. When the client falls behind, a
// "lagged" event carries the running count of entries it missed.
func (s *Server) handleJournalStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming not supported")
		return
	}

	// Subscribed before the headers go out, so a client that has seen the
	// response misses nothing appended afterwards.
	sub := s.journal.Subscribe(r.URL.Query().Get("task"))
	defer s.journal.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	var lagged int64

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if n := sub.Dropped(); n > lagged {
				lagged = n
				fmt.Fprintf(w, "event: lagged\ndata: {\"dropped\":%d}\n\n", n)
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("api: encode journal entry %s: %v", e.ID, err)
				continue
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", e.ID, data)
			flusher.Flush()
		}
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
