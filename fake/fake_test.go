package fake_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/fake"
)

func setup(t *testing.T, opts ...fake.Option) (*fake.Server, *httptest.Server) {
	t.Helper()
	opts = append([]fake.Option{
		fake.WithUser("u1", "alice@example.com", "secret1"),
		fake.WithUser("u2", "bob@example.com", "secret2"),
		fake.WithTask("u1", todo.Task{ID: "t1", Title: "Write report"}),
	}, opts...)
	f := fake.NewServer(opts...)
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// --- auth ---

func TestLogin(t *testing.T) {
	_, srv := setup(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", body["user_id"])
	}
	if tok, _ := body["access_token"].(string); tok == "" {
		t.Error("access_token should be set")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	_, srv := setup(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "nope",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["detail"] != "Invalid email or password" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestLogin_FailLogins(t *testing.T) {
	f, srv := setup(t)
	f.FailLogins(true)

	resp, _ := do(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret1",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSignup(t *testing.T) {
	f, srv := setup(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/auth/signup", "", map[string]string{
		"email": "carol@example.com", "password": "secret3", "name": "Carol",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["userId"] == "" || body["userId"] != f.UserID("carol@example.com") {
		t.Errorf("userId = %v, want %q", body["userId"], f.UserID("carol@example.com"))
	}
	if f.UserCount() != 3 {
		t.Errorf("UserCount() = %d, want 3", f.UserCount())
	}
}

func TestSignup_Duplicate(t *testing.T) {
	f, srv := setup(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/auth/signup", "", map[string]string{
		"email": "alice@example.com", "password": "another",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if f.UserCount() != 2 {
		t.Errorf("UserCount() = %d, want 2", f.UserCount())
	}
}

func TestSignup_ShortPassword(t *testing.T) {
	_, srv := setup(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
		"email": "dave@example.com", "password": "123",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if _, ok := body["detail"].([]any); !ok {
		t.Errorf("detail = %T, want list", body["detail"])
	}
}

func TestGoogleSignIn_CreatesUserOnce(t *testing.T) {
	f, srv := setup(t)

	req := map[string]string{"email": "erin@example.com", "name": "Erin", "google_id": "g-1"}
	resp, first := do(t, http.MethodPost, srv.URL+"/auth/google-signin", "", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	_, second := do(t, http.MethodPost, srv.URL+"/auth/google-signin", "", req)

	if first["user_id"] != second["user_id"] {
		t.Errorf("user_id changed between sign-ins: %v vs %v", first["user_id"], second["user_id"])
	}
	if f.UserCount() != 3 {
		t.Errorf("UserCount() = %d, want 3", f.UserCount())
	}
}

// --- tasks ---

func TestTasks_RequireBearer(t *testing.T) {
	_, srv := setup(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/users/u1/tasks", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestTasks_OtherUserForbidden(t *testing.T) {
	f, srv := setup(t)
	tok, err := f.IssueToken("u2")
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	resp, _ := do(t, http.MethodGet, srv.URL+"/users/u1/tasks", tok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestTasks_GetNotFound(t *testing.T) {
	f, srv := setup(t)
	tok, _ := f.IssueToken("u1")

	resp, body := do(t, http.MethodGet, srv.URL+"/users/u1/tasks/missing", tok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["detail"] != "Task missing not found" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestTasks_Lifecycle(t *testing.T) {
	f, srv := setup(t)
	tok, _ := f.IssueToken("u1")
	base := srv.URL + "/users/u1/tasks"

	resp, created := do(t, http.MethodPost, base, tok, map[string]any{"title": "Buy milk"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("created task should have an id")
	}
	if created["completed"] != false {
		t.Errorf("completed = %v, want false", created["completed"])
	}

	_, done := do(t, http.MethodPatch, base+"/"+id+"/complete", tok, map[string]bool{"completed": true})
	if done["completed"] != true {
		t.Errorf("completed after PATCH = %v, want true", done["completed"])
	}

	_, updated := do(t, http.MethodPut, base+"/"+id, tok, map[string]string{"description": "2 litres"})
	if updated["title"] != "Buy milk" || updated["description"] != "2 litres" {
		t.Errorf("PUT result = %v", updated)
	}

	resp, _ = do(t, http.MethodDelete, base+"/"+id, tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, base+"/"+id, tok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestTasks_List(t *testing.T) {
	f, srv := setup(t)
	tok, _ := f.IssueToken("u1")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/users/u1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()

	var tasks []todo.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("tasks = %+v, want [t1]", tasks)
	}
}
