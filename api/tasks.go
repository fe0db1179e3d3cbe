package api

import (
	"context"
	"net/http"

	todo "github.com/chimerakang/todo-go"
)

// ListTasks returns all tasks of a user.
func (c *Client) ListTasks(ctx context.Context, userID string) todo.Result[[]todo.Task] {
	if err := requireIDs("userID", userID); err != nil {
		return todo.Failure[[]todo.Task](err, 0)
	}
	res := send[[]todo.Task](ctx, c, call{
		op:       "list_tasks",
		method:   http.MethodGet,
		segments: []string{"users", userID, "tasks"},
		fallback: "Failed to fetch tasks",
	})
	if res.OK() && res.Data == nil {
		res.Data = []todo.Task{}
	}
	return res
}

// GetTask returns a single task.
func (c *Client) GetTask(ctx context.Context, userID, taskID string) todo.Result[todo.Task] {
	if err := requireIDs("userID", userID, "taskID", taskID); err != nil {
		return todo.Failure[todo.Task](err, 0)
	}
	return send[todo.Task](ctx, c, call{
		op:       "get_task",
		method:   http.MethodGet,
		segments: []string{"users", userID, "tasks", taskID},
		fallback: "Failed to fetch task",
	})
}

// CreateTask creates a task for a user.
func (c *Client) CreateTask(ctx context.Context, userID string, in todo.TaskInput) todo.Result[todo.Task] {
	if err := requireIDs("userID", userID); err != nil {
		return todo.Failure[todo.Task](err, 0)
	}
	return send[todo.Task](ctx, c, call{
		op:       "create_task",
		method:   http.MethodPost,
		segments: []string{"users", userID, "tasks"},
		body:     in,
		fallback: "Failed to create task",
	})
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, userID, taskID string, patch todo.TaskPatch) todo.Result[todo.Task] {
	if err := requireIDs("userID", userID, "taskID", taskID); err != nil {
		return todo.Failure[todo.Task](err, 0)
	}
	return send[todo.Task](ctx, c, call{
		op:       "update_task",
		method:   http.MethodPut,
		segments: []string{"users", userID, "tasks", taskID},
		body:     patch,
		fallback: "Failed to update task",
	})
}

// SetTaskCompletion marks a task completed or not.
func (c *Client) SetTaskCompletion(ctx context.Context, userID, taskID string, completed bool) todo.Result[todo.Task] {
	if err := requireIDs("userID", userID, "taskID", taskID); err != nil {
		return todo.Failure[todo.Task](err, 0)
	}
	return send[todo.Task](ctx, c, call{
		op:       "set_task_completion",
		method:   http.MethodPatch,
		segments: []string{"users", userID, "tasks", taskID, "complete"},
		body:     map[string]bool{"completed": completed},
		fallback: "Failed to update task completion",
	})
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, userID, taskID string) todo.Result[todo.Message] {
	if err := requireIDs("userID", userID, "taskID", taskID); err != nil {
		return todo.Failure[todo.Message](err, 0)
	}
	return send[todo.Message](ctx, c, call{
		op:       "delete_task",
		method:   http.MethodDelete,
		segments: []string{"users", userID, "tasks", taskID},
		fallback: "Failed to delete task",
	})
}
