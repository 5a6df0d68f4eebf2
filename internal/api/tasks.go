package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"taskrelay/pkg/mirror"
	"taskrelay/pkg/task"
)

// actorHeader names who made the change; that participant gets no notice.
const actorHeader = "X-Actor-ID"

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	tasks, err := s.tasks.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, 200, t)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if t.Title == "" {
		writeError(w, 400, "title is required")
		return
	}
	t.Messaging = task.Messaging{}

	created, err := s.tasks.Create(r.Context(), &t)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	actorID := r.Header.Get(actorHeader)
	if actorID == "" {
		actorID = created.CreatorID
	}
	s.submit(r, mirror.Snapshot{Task: created.Clone(), ActorID: actorID, Kind: mirror.KindCreated})
	writeJSON(w, 201, created)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}

	prev, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	t, err := s.tasks.Update(r.Context(), id, updates)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.submit(r, mirror.Snapshot{Task: t.Clone(), Previous: prev, ActorID: r.Header.Get(actorHeader), Kind: mirror.KindUpdated})
	writeJSON(w, 200, t)
}

// handleTaskSync runs a repair pass now and reports what it did.
func (s *Server) handleTaskSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	report, err := s.relay.SyncNow(r.Context(), mirror.Snapshot{Task: t, Kind: mirror.KindResync})
	if err != nil {
		resp := newReportView(report)
		resp.Error = err.Error()
		writeJSON(w, 502, resp)
		return
	}
	writeJSON(w, 200, newReportView(report))
}

func (s *Server) submit(r *http.Request, snap mirror.Snapshot) {
	// The task change is already stored; a lost pass is repaired by a resync.
	if err := s.relay.Submit(r.Context(), snap); err != nil {
		log.Printf("api: submit pass for task %s: %v", snap.Task.ID, err)
	}
}

func statusFor(err error) int {
	if errors.Is(err, task.ErrNotFound) {
		return 404
	}
	return 500
}

// reportView is the JSON shape of a mirror.Report.
type reportView struct {
	TaskID      string         `json:"task_id"`
	Result      string         `json:"result"`
	Messaging   task.Messaging `json:"messaging"`
	Failures    []string       `json:"failures,omitempty"`
	FullResends []string       `json:"full_resends,omitempty"`
	Recreated   bool           `json:"recreated,omitempty"`
	Notified    []string       `json:"notified,omitempty"`
	SkippedBots []string       `json:"skipped_bots,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func newReportView(r *mirror.Report) reportView {
	if r == nil {
		return reportView{Result: "failed"}
	}
	v := reportView{
		TaskID:      r.TaskID,
		Result:      r.Result(),
		Messaging:   r.Messaging,
		FullResends: r.FullResends,
		Recreated:   r.Recreated,
		Notified:    r.Notified,
		SkippedBots: r.SkippedBots,
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, f.String())
	}
	if r.BookkeepingErr != nil {
		v.Failures = append(v.Failures, "bookkeeping: "+r.BookkeepingErr.Error())
	}
	return v
}
