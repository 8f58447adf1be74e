package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
)

// TaskResumer moves a failed propagation task back to pending.
type TaskResumer interface {
	Resume(ctx context.Context, taskID uuid.UUID) error
}

type TaskService interface {
	GetTask(ctx context.Context, id uuid.UUID) (model.PropagationTask, error)
	ListTasksByProduct(ctx context.Context, productID uuid.UUID) ([]model.PropagationTask, error)
	ResumeTask(ctx context.Context, id uuid.UUID) error
	CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)
}

type taskService struct {
	taskRepo repository.TaskRepository
	resumer  TaskResumer
}

func NewTaskService(taskRepo repository.TaskRepository, resumer TaskResumer) TaskService {
	return &taskService{
		taskRepo: taskRepo,
		resumer:  resumer,
	}
}

func (s *taskService) GetTask(ctx context.Context, id uuid.UUID) (model.PropagationTask, error) {
	task, err := s.taskRepo.GetTask(ctx, id)
	if err != nil {
		return model.PropagationTask{}, fmt.Errorf("task repository get task: %w", err)
	}

	return task, nil
}

func (s *taskService) ListTasksByProduct(ctx context.Context, productID uuid.UUID) ([]model.PropagationTask, error) {
	tasks, err := s.taskRepo.ListTasksByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("task repository list tasks by product: %w", err)
	}

	return tasks, nil
}

func (s *taskService) ResumeTask(ctx context.Context, id uuid.UUID) error {
	return s.resumer.Resume(ctx, id)
}

func (s *taskService) CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	counts, err := s.taskRepo.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("task repository count tasks by status: %w", err)
	}

	return counts, nil
}
