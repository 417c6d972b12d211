package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/orchestrator"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// readJSON decodes the request body; an empty body means "all defaults".
func readJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrNotConfirm), errors.Is(err, workflow.ErrRunNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
		"safe_mode":  s.deps.Vendor.SafeMode(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Bus.History(limit))
}

// ---------------------------------------------------------------------------
// Tick

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var params orchestrator.TickParams
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.deps.Orch.Tick(r.Context(), params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Tasks

type createTaskRequest struct {
	Kind       string     `json:"kind"`
	Title      string     `json:"title"`
	TargetKind string     `json:"target_kind"`
	TargetRef  string     `json:"target_ref"`
	ReleaseAt  *time.Time `json:"release_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind := store.TaskKind(req.Kind)
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind " + req.Kind})
		return
	}
	if req.Title == "" {
		req.Title = string(kind) + " " + req.TargetRef
	}

	task := &store.Task{
		Kind:       kind,
		Title:      req.Title,
		Notes:      req.Notes,
		TargetKind: req.TargetKind,
		TargetRef:  req.TargetRef,
		ReleaseAt:  req.ReleaseAt,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.deps.Store.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.deps.Bus.Publish(events.New(events.EventTaskCreated, events.SourceGateway,
		events.TaskPayload{TaskID: task.ID, Kind: string(task.Kind),
			Status: string(task.Status), Title: task.Title}))
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f := store.TaskFilter{Status: store.TaskStatus(r.URL.Query().Get("status")), Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	tasks, err := s.deps.Store.ListTasks(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.deps.Store.GetTask(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req reasonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.deps.Engine.CancelTask(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUnassignTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req reasonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.deps.Engine.Unassign(id, req.Reason)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		} else if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ---------------------------------------------------------------------------
// Priority overrides

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.deps.Queue.GetOverride(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "override": v})
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Override int `json:"override"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Queue.SetOverride(id, req.Override); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "override": req.Override})
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cleared, err := s.deps.Queue.ClearOverride(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "cleared": cleared})
}

// ---------------------------------------------------------------------------
// Queue

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Queue.ReadyQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Runs

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.deps.Store.ListRuns(store.RunStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.deps.Store.GetRun(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	steps, err := s.deps.Store.Steps(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "steps": steps})
}

func (s *Server) handleConfirmRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Decision string  `json:"decision"`
		Payload  *string `json:"payload,omitempty"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Decision == "" {
		req.Decision = "CONFIRM"
	}
	run, err := s.deps.Executor.Decide(id, req.Decision, req.Payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req reasonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.deps.Executor.CancelRun(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ---------------------------------------------------------------------------
// Robots

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.View.CheckAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ---------------------------------------------------------------------------
// POIs

func (s *Server) handleListPOIs(w http.ResponseWriter, r *http.Request) {
	pois, err := s.deps.Store.ListRobotPOIs(r.URL.Query().Get("robot_id"), 500, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pois)
}

func (s *Server) handleSyncPOIs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RobotID string `json:"robot_id,omitempty"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ids := s.deps.View.Registry().IDs()
	if req.RobotID != "" {
		ids = []string{req.RobotID}
	}
	results := map[string]any{}
	for _, id := range ids {
		res, err := s.deps.Syncer.SyncRobot(r.Context(), id)
		if err != nil {
			results[id] = map[string]string{"error": err.Error()}
			continue
		}
		results[id] = res
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Mapper.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var m store.POIMapping
	if err := readJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if m.Kind == "" || m.Ref == "" || m.POIID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind, ref, and poi_id are required"})
		return
	}
	if err := s.deps.Mapper.Upsert(&m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	ref := r.URL.Query().Get("ref")
	if kind == "" || ref == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind and ref are required"})
		return
	}
	deleted, err := s.deps.Mapper.Delete(kind, ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// ---------------------------------------------------------------------------
// System

func (s *Server) handleGetSafeMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"safe_mode": s.deps.Vendor.SafeMode()})
}

func (s *Server) handleSetSafeMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.deps.Vendor.SetSafeMode(req.Enabled)
	s.deps.Bus.Publish(events.New(events.EventSystemUpdated, events.SourceControls,
		events.SystemUpdatedPayload{Reason: "safe_mode"}))
	writeJSON(w, http.StatusOK, map[string]bool{"safe_mode": req.Enabled})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Store.Reset()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.deps.Bus.Publish(events.New(events.EventSystemReset, events.SourceControls,
		events.SystemResetPayload{Deleted: deleted}))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
