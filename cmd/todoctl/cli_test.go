package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/fake"
)

func setupCLI(t *testing.T) *fake.Server {
	t.Helper()
	backend := fake.NewServer(fake.WithUser("u-1", "alice@example.com", "secret-pw"))
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	t.Setenv("TODO_CONFIG", "")
	t.Setenv("TODO_API_URL", srv.URL)
	t.Setenv("TODO_STORE_DRIVER", "file")
	t.Setenv("TODO_STORE_PATH", filepath.Join(t.TempDir(), "session.json"))
	t.Setenv("TODO_METRICS", "false")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("LOG_LEVEL", "error")
	return backend
}

// runCLI executes one todoctl invocation, like a fresh process would.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, cleanup := newRootCmd()
	defer cleanup()

	var out, errOut bytes.Buffer
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", args...)
	if err != nil {
		t.Fatalf("todoctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI_SessionAndTasks(t *testing.T) {
	setupCLI(t)

	if out := mustRun(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Fatalf("whoami before login = %q", out)
	}

	if out := mustRun(t, "login", "--email", "alice@example.com", "--password", "secret-pw"); !strings.Contains(out, "Signed in as alice@example.com") {
		t.Fatalf("login = %q", out)
	}

	out := mustRun(t, "whoami")
	if !strings.Contains(out, "alice@example.com") || !strings.Contains(out, "u-1") {
		t.Fatalf("whoami after login = %q", out)
	}

	if out := mustRun(t, "tasks", "list"); !strings.Contains(out, "No tasks") {
		t.Fatalf("empty list = %q", out)
	}

	out = mustRun(t, "tasks", "add", "Buy milk", "--description", "2 litres", "--json")
	var created todo.Task
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode created task %q: %v", out, err)
	}
	if created.ID == "" || created.Title != "Buy milk" || created.UserID != "u-1" {
		t.Fatalf("created = %+v", created)
	}

	out = mustRun(t, "tasks", "list")
	if !strings.Contains(out, created.ID) || !strings.Contains(out, "Buy milk") {
		t.Fatalf("list = %q", out)
	}

	mustRun(t, "tasks", "done", created.ID)
	out = mustRun(t, "tasks", "get", created.ID, "--json")
	var got todo.Task
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode task %q: %v", out, err)
	}
	if !got.Completed {
		t.Error("task should be completed")
	}

	out = mustRun(t, "tasks", "update", created.ID, "--title", "Buy oat milk")
	if !strings.Contains(out, "Buy oat milk") {
		t.Fatalf("update = %q", out)
	}

	if out := mustRun(t, "tasks", "rm", created.ID); !strings.Contains(out, "Task deleted") {
		t.Fatalf("rm = %q", out)
	}
	if _, err := runCLI(t, "", "tasks", "get", created.ID); err == nil {
		t.Fatal("get after delete should fail")
	}

	if out := mustRun(t, "logout"); !strings.Contains(out, "Signed out") {
		t.Fatalf("logout = %q", out)
	}
	if out := mustRun(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Fatalf("whoami after logout = %q", out)
	}
}

func TestCLI_LoginReadsPasswordFromStdin(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "secret-pw\n", "login", "--email", "alice@example.com")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Signed in as alice@example.com") {
		t.Fatalf("login = %q", out)
	}
}

func TestCLI_LoginRejected(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "", "login", "--email", "alice@example.com", "--password", "wrong-pw")
	if err == nil {
		t.Fatal("login with wrong password should fail")
	}
	if out := mustRun(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Fatalf("whoami = %q", out)
	}
}

func TestCLI_Signup(t *testing.T) {
	backend := setupCLI(t)

	out := mustRun(t, "signup", "--email", "bob@example.com", "--password", "hunter22", "--name", "Bob")
	if !strings.Contains(out, "Account created. Signed in as bob@example.com") {
		t.Fatalf("signup = %q", out)
	}
	if backend.UserID("bob@example.com") == "" {
		t.Error("backend should know bob")
	}

	_, err := runCLI(t, "", "signup", "--email", "bob@example.com", "--password", "hunter22")
	if err == nil {
		t.Fatal("duplicate signup should fail")
	}
}

func TestCLI_TasksRequireSession(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "", "tasks", "list")
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("err = %v, want not signed in", err)
	}
}

func TestCLI_UpdateNeedsAField(t *testing.T) {
	setupCLI(t)
	mustRun(t, "login", "--email", "alice@example.com", "--password", "secret-pw")

	_, err := runCLI(t, "", "tasks", "update", "some-id")
	if err == nil || !strings.Contains(err.Error(), "nothing to update") {
		t.Fatalf("err = %v", err)
	}
}

func TestCLI_MissingAPIURL(t *testing.T) {
	setupCLI(t)
	t.Setenv("TODO_API_URL", "")
	t.Setenv("NEXT_PUBLIC_API_URL", "")

	_, err := runCLI(t, "", "whoami")
	if err == nil || !strings.Contains(err.Error(), "TODO_API_URL") {
		t.Fatalf("err = %v, want missing TODO_API_URL", err)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"resource", &todo.ResourceError{Op: "get_task", Status: 404, Message: "Task not found"}, "Task not found"},
		{"auto login", &todo.AutoLoginAfterSignupError{Email: "a@b.c", Err: &todo.AuthenticationError{Status: 401, Message: "nope"}},
			"Account created but login failed. Please try logging in."},
		{"network", &todo.TransportError{}, todo.NetworkErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userMessage(tt.err); got != tt.want {
				t.Errorf("userMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
