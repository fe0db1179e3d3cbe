// Package tasks provides the TaskService implementation.
package tasks

import (
	"context"
	"fmt"

	todo "github.com/chimerakang/todo-go"
)

// Backend defines the remote task calls the Service depends on.
// *api.Client implements it.
type Backend interface {
	ListTasks(ctx context.Context, userID string) todo.Result[[]todo.Task]
	GetTask(ctx context.Context, userID, taskID string) todo.Result[todo.Task]
	CreateTask(ctx context.Context, userID string, in todo.TaskInput) todo.Result[todo.Task]
	UpdateTask(ctx context.Context, userID, taskID string, patch todo.TaskPatch) todo.Result[todo.Task]
	SetTaskCompletion(ctx context.Context, userID, taskID string, completed bool) todo.Result[todo.Task]
	DeleteTask(ctx context.Context, userID, taskID string) todo.Result[todo.Message]
}

// IdentitySource reports who is signed in. *session.Manager implements it.
type IdentitySource interface {
	Identity() *todo.Identity
}

// Service implements todo.TaskService on behalf of the signed-in user.
type Service struct {
	backend  Backend
	identity IdentitySource
}

var _ todo.TaskService = (*Service)(nil)

// New creates a TaskService that acts as the identity reported by src.
func New(backend Backend, src IdentitySource) *Service {
	return &Service{backend: backend, identity: src}
}

// List returns the signed-in user's tasks.
func (s *Service) List(ctx context.Context) ([]todo.Task, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	list, err := s.backend.ListTasks(ctx, uid).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("todo/tasks: %w", err)
	}
	return list, nil
}

// Get returns one task by ID.
func (s *Service) Get(ctx context.Context, taskID string) (*todo.Task, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return unwrapTask(s.backend.GetTask(ctx, uid, taskID))
}

// Create adds a task.
func (s *Service) Create(ctx context.Context, in todo.TaskInput) (*todo.Task, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return unwrapTask(s.backend.CreateTask(ctx, uid, in))
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, taskID string, patch todo.TaskPatch) (*todo.Task, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return unwrapTask(s.backend.UpdateTask(ctx, uid, taskID, patch))
}

// SetCompleted marks a task done or not done.
func (s *Service) SetCompleted(ctx context.Context, taskID string, completed bool) (*todo.Task, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return unwrapTask(s.backend.SetTaskCompletion(ctx, uid, taskID, completed))
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	uid, err := s.userID()
	if err != nil {
		return err
	}
	if _, err := s.backend.DeleteTask(ctx, uid, taskID).Unwrap(); err != nil {
		return fmt.Errorf("todo/tasks: %w", err)
	}
	return nil
}

func (s *Service) userID() (string, error) {
	var id *todo.Identity
	if s.identity != nil {
		id = s.identity.Identity()
	}
	if id == nil || id.ID == "" {
		return "", fmt.Errorf("todo/tasks: %w", &todo.AuthenticationError{Message: "Not signed in"})
	}
	return id.ID, nil
}

func unwrapTask(res todo.Result[todo.Task]) (*todo.Task, error) {
	t, err := res.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("todo/tasks: %w", err)
	}
	return &t, nil
}
