package http

import (
	"net/http"

	"github.com/greenvalley/quoting/internal/service"
)

type taskHandler struct {
	svc     *Service
	taskSvc service.TaskService
}

func newTaskHandler(svc *Service, taskSvc service.TaskService) *taskHandler {
	return &taskHandler{svc: svc, taskSvc: taskSvc}
}

func (h *taskHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "taskId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	task, err := h.taskSvc.GetTask(r.Context(), id)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, task)
}

func (h *taskHandler) listByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := parseUUIDParam(r, "productId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	tasks, err := h.taskSvc.ListTasksByProduct(r.Context(), productID)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, tasks)
}

func (h *taskHandler) resume(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "taskId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	if err := h.taskSvc.ResumeTask(r.Context(), id); err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	task, err := h.taskSvc.GetTask(r.Context(), id)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusAccepted, task)
}

func (h *taskHandler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.taskSvc.CountTasksByStatus(r.Context())
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, counts)
}
