package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/internal/locktable"
	"github.com/Nash0810/kollab-board/internal/resolver"
	"github.com/Nash0810/kollab-board/internal/tasks"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// ResolveRequest is the body of POST /api/tasks/resolve-conflict.
// MergedData is accepted as an older name for Proposed.
type ResolveRequest struct {
	TaskID     string             `json:"taskId"`
	Resolution string             `json:"resolution"`
	Proposed   *resolver.Proposal `json:"proposed"`
	MergedData *resolver.Proposal `json:"mergedData"`
}

// SmartAssignResponse is the body returned by smart-assign.
type SmartAssignResponse struct {
	Task   *board.Task `json:"task"`
	Reason string      `json:"reason"`
}

// CommentRequest is the body of POST /api/comments.
type CommentRequest struct {
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
}

// UserRequest is the body of PUT /api/users/me.
type UserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LockView is one held edit lock.
type LockView struct {
	TaskID     string    `json:"taskId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	AgeMs      int64     `json:"ageMs"`
}

// TaskLockResponse reports the lock state of one task.
type TaskLockResponse struct {
	TaskID string    `json:"taskId"`
	Locked bool      `json:"locked"`
	Lock   *LockView `json:"lock,omitempty"`
	// Viewers counts the connections currently joined to the task's room.
	Viewers int `json:"viewers"`
}

func (s *Server) lockView(l locktable.EditLock) LockView {
	return LockView{
		TaskID:     l.TaskID,
		HolderID:   l.HolderID,
		AcquiredAt: l.AcquiredAt,
		AgeMs:      l.Age(s.now()).Milliseconds(),
	}
}

// requireActor fails the request when no identity header was supplied.
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (tasks.Actor, bool) {
	actor := actorFrom(r)
	if actor.ID == "" {
		s.writeError(w, r, apperr.New(apperr.Unidentified, "missing "+HeaderUserID+" header"))
		return actor, false
	}
	return actor, true
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tasks.Filter{
		Status:     board.Status(q.Get("status")),
		AssignedTo: q.Get("assignedTo"),
		Priority:   board.Priority(q.Get("priority")),
		Search:     q.Get("search"),
	}
	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.InvalidArgument, "invalid status filter", err))
			return
		}
	}
	if filter.Priority != "" {
		if err := filter.Priority.Validate(); err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.InvalidArgument, "invalid priority filter", err))
			return
		}
	}

	list, err := s.tasks.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var in tasks.CreateInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	task, err := s.tasks.Create(r.Context(), actor, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var fields board.TaskFields
	if err := decodeBody(r, &fields); err != nil {
		s.writeError(w, r, err)
		return
	}

	task, err := s.tasks.Update(r.Context(), actor, mux.Vars(r)["id"], fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["id"]
	if err := s.tasks.Delete(r.Context(), actor, taskID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board.DeletedPayload{ID: taskID, Deleted: true})
}

func (s *Server) handleSmartAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	task, reason, err := s.tasks.SmartAssign(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SmartAssignResponse{Task: task, Reason: reason})
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	proposal := req.Proposed
	if proposal == nil {
		proposal = req.MergedData
	}
	if proposal == nil {
		proposal = &resolver.Proposal{}
	}

	task, err := s.resolver.Resolve(r.Context(), resolver.Request{
		TaskID:   req.TaskID,
		Policy:   req.Resolution,
		Proposal: *proposal,
		UserID:   actor.ID,
		UserName: actor.Name,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.locks.Locks()
	views := make([]LockView, 0, len(locks))
	for _, l := range locks {
		views = append(views, s.lockView(l))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTaskLock(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	resp := TaskLockResponse{TaskID: taskID}
	if l, ok := s.locks.Holder(taskID); ok {
		view := s.lockView(l)
		resp.Locked = true
		resp.Lock = &view
	}
	if s.presence != nil {
		resp.Viewers = len(s.presence.RoomMembers(taskID))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.tasks.Comments(r.Context(), mux.Vars(r)["taskId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req CommentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	comment, err := s.tasks.AddComment(r.Context(), actor, req.TaskID, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.Newf(apperr.InvalidArgument, "invalid limit %q", raw))
			return
		}
		limit = n
	}

	activities, err := s.tasks.Activities(r.Context(), q.Get("taskId"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, activities)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.tasks.Users(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req UserRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		req.Name = actor.Name
	}

	user, err := s.tasks.RegisterUser(r.Context(), board.User{ID: actor.ID, Name: req.Name, Email: req.Email})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}
