package tasks

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/api"
	"github.com/chimerakang/todo-go/fake"
	"github.com/chimerakang/todo-go/session"
)

// mockBackend implements Backend for testing
type mockBackend struct {
	tasks      map[string]todo.Task
	shouldFail bool
	lastUser   string
}

func (m *mockBackend) fail(op string) error {
	return &todo.ResourceError{Op: op, Status: 500, Message: op + " failed"}
}

func (m *mockBackend) ListTasks(_ context.Context, userID string) todo.Result[[]todo.Task] {
	m.lastUser = userID
	if m.shouldFail {
		return todo.Failure[[]todo.Task](m.fail("list_tasks"), 500)
	}
	list := make([]todo.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		list = append(list, t)
	}
	return todo.Success(list, 200)
}

func (m *mockBackend) GetTask(_ context.Context, userID, taskID string) todo.Result[todo.Task] {
	m.lastUser = userID
	if m.shouldFail {
		return todo.Failure[todo.Task](m.fail("get_task"), 500)
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return todo.Failure[todo.Task](&todo.ResourceError{Op: "get_task", Status: 404, Message: "not found"}, 404)
	}
	return todo.Success(t, 200)
}

func (m *mockBackend) CreateTask(_ context.Context, userID string, in todo.TaskInput) todo.Result[todo.Task] {
	m.lastUser = userID
	if m.shouldFail {
		return todo.Failure[todo.Task](m.fail("create_task"), 500)
	}
	t := todo.Task{ID: "t1", UserID: userID, Title: in.Title, Completed: in.Completed}
	m.tasks[t.ID] = t
	return todo.Success(t, 200)
}

func (m *mockBackend) UpdateTask(_ context.Context, userID, taskID string, patch todo.TaskPatch) todo.Result[todo.Task] {
	m.lastUser = userID
	t := m.tasks[taskID]
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	m.tasks[taskID] = t
	return todo.Success(t, 200)
}

func (m *mockBackend) SetTaskCompletion(_ context.Context, userID, taskID string, completed bool) todo.Result[todo.Task] {
	m.lastUser = userID
	t := m.tasks[taskID]
	t.Completed = completed
	m.tasks[taskID] = t
	return todo.Success(t, 200)
}

func (m *mockBackend) DeleteTask(_ context.Context, userID, taskID string) todo.Result[todo.Message] {
	m.lastUser = userID
	if m.shouldFail {
		return todo.Failure[todo.Message](m.fail("delete_task"), 500)
	}
	delete(m.tasks, taskID)
	return todo.Success(todo.Message{Message: "Task deleted successfully"}, 200)
}

type staticIdentity struct{ id *todo.Identity }

func (s staticIdentity) Identity() *todo.Identity { return s.id }

func signedIn(id string) staticIdentity {
	return staticIdentity{id: &todo.Identity{ID: id, Email: id + "@example.com"}}
}

func TestCreate_ActsAsSignedInUser(t *testing.T) {
	backend := &mockBackend{tasks: map[string]todo.Task{}}
	svc := New(backend, signedIn("user123"))

	task, err := svc.Create(context.Background(), todo.TaskInput{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if task.Title != "Buy milk" || task.Completed {
		t.Errorf("task = %+v", task)
	}
	if backend.lastUser != "user123" {
		t.Errorf("backend called for %q, want user123", backend.lastUser)
	}
}

func TestNotSignedIn(t *testing.T) {
	backend := &mockBackend{tasks: map[string]todo.Task{}}
	for _, src := range []IdentitySource{nil, staticIdentity{}} {
		svc := New(backend, src)

		_, err := svc.List(context.Background())
		var ae *todo.AuthenticationError
		if !errors.As(err, &ae) {
			t.Fatalf("List() error = %v, want AuthenticationError", err)
		}
		if err := svc.Delete(context.Background(), "t1"); !errors.As(err, &ae) {
			t.Fatalf("Delete() error = %v, want AuthenticationError", err)
		}
	}
	if backend.lastUser != "" {
		t.Error("backend should not be called without an identity")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := New(&mockBackend{tasks: map[string]todo.Task{}}, signedIn("user123"))

	_, err := svc.Get(context.Background(), "missing")
	var re *todo.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("Get() error = %v, want ResourceError", err)
	}
	if re.Message != "not found" || re.Status != 404 {
		t.Errorf("ResourceError = %+v", re)
	}
}

func TestBackendFailure_Wrapped(t *testing.T) {
	svc := New(&mockBackend{shouldFail: true}, signedIn("user123"))

	_, err := svc.List(context.Background())
	if err == nil {
		t.Fatal("List() expected error")
	}
	if err.Error() != "todo/tasks: list_tasks failed" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUpdateAndComplete(t *testing.T) {
	backend := &mockBackend{tasks: map[string]todo.Task{"t1": {ID: "t1", Title: "old"}}}
	svc := New(backend, signedIn("user123"))
	ctx := context.Background()

	title := "new"
	task, err := svc.Update(ctx, "t1", todo.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if task.Title != "new" {
		t.Errorf("Title = %q", task.Title)
	}

	task, err = svc.SetCompleted(ctx, "t1", true)
	if err != nil {
		t.Fatalf("SetCompleted() error: %v", err)
	}
	if !task.Completed {
		t.Error("task should be completed")
	}
}

func TestAgainstFakeWithSession(t *testing.T) {
	srv := httptest.NewServer(fake.NewServer(fake.WithUser("u1", "alice@example.com", "secret1")))
	defer srv.Close()

	c, err := api.New(srv.URL)
	if err != nil {
		t.Fatalf("api.New() error: %v", err)
	}
	mgr := session.New(c)
	svc := New(c, mgr)
	ctx := context.Background()

	if _, err := svc.List(ctx); err == nil {
		t.Fatal("List() before login should fail")
	}
	if _, err := mgr.Login(ctx, "alice@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	created, err := svc.Create(ctx, todo.TaskInput{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := svc.SetCompleted(ctx, created.ID, true); err != nil {
		t.Fatalf("SetCompleted() error: %v", err)
	}
	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Title != "Buy milk" || !got.Completed {
		t.Errorf("task = %+v", got)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %d tasks, %v", len(list), err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	mgr.Logout(ctx)
	if _, err := svc.List(ctx); err == nil {
		t.Error("List() after logout should fail")
	}
}
