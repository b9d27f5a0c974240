package gateway

import (
	"net/http"
	"testing"

	"github.com/nodeflow/nodeflow/core/users"
)

func TestListUsersAdminOnly(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodGet, "/api/users", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)

	var list []map[string]any
	decodeJSON(t, rr, &list)
	if len(list) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(list))
	}
	if list[0]["id"] != "u2" || list[2]["id"] != "admin-1" {
		t.Fatalf("expected newest first, got %v", list)
	}
	if _, ok := list[0]["created_at"]; ok {
		t.Fatalf("listing should not include created_at")
	}
	for _, key := range []string{"id", "email", "name", "avatar_url", "role", "updated_at"} {
		if _, ok := list[0][key]; !ok {
			t.Fatalf("missing %s in %v", key, list[0])
		}
	}
}

func TestGetUserSelfOrAdmin(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodGet, "/api/users/u1", "user-token", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodGet, "/api/users/u2", "user-token", nil)
	expectStatus(t, rr, http.StatusForbidden)
	if got := errorOf(t, rr); got != "Access denied" {
		t.Fatalf("unexpected error %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/users/u2", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = env.do(t, http.MethodGet, "/api/users/nobody", "admin-token", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestCreateUser(t *testing.T) {
	env := newTestGateway(t)
	body := map[string]any{"id": "u3", "email": "u3@example.com", "name": "Three", "role": "admin"}

	rr := env.do(t, http.MethodPost, "/api/users", "user-token", body)
	expectStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, http.MethodPost, "/api/users", "admin-token", body)
	expectStatus(t, rr, http.StatusCreated)
	var created users.Profile
	decodeJSON(t, rr, &created)
	if created.ID != "u3" || created.Role != users.RoleAdmin || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected profile %+v", created)
	}

	rr = env.do(t, http.MethodPost, "/api/users", "admin-token", body)
	expectStatus(t, rr, http.StatusConflict)

	rr = env.do(t, http.MethodPost, "/api/users", "admin-token", map[string]any{"id": "u4", "role": "root"})
	expectStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, http.MethodPost, "/api/users", "admin-token", map[string]any{"email": "x@example.com"})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestUpdateUserRoleIsAdminOnly(t *testing.T) {
	env := newTestGateway(t)

	rr := env.do(t, http.MethodPut, "/api/users/u1", "user-token", map[string]any{"name": "Renamed", "avatar_url": "https://img/1.png", "role": "admin"})
	expectStatus(t, rr, http.StatusOK)
	var p users.Profile
	decodeJSON(t, rr, &p)
	if p.Name != "Renamed" || p.AvatarURL != "https://img/1.png" || p.Role != users.RoleUser {
		t.Fatalf("unexpected self update %+v", p)
	}

	rr = env.do(t, http.MethodPut, "/api/users/u2", "user-token", map[string]any{"name": "x"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, http.MethodPut, "/api/users/u1", "admin-token", map[string]any{"role": "admin"})
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &p)
	if p.Role != users.RoleAdmin || p.Name != "Renamed" {
		t.Fatalf("unexpected admin update %+v", p)
	}

	rr = env.do(t, http.MethodPut, "/api/users/u1", "admin-token", map[string]any{"role": "root"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, http.MethodPut, "/api/users/missing", "admin-token", map[string]any{"name": "x"})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestDeleteUser(t *testing.T) {
	env := newTestGateway(t)
	rr := env.do(t, http.MethodDelete, "/api/users/u2", "user-token", nil)
	expectStatus(t, rr, http.StatusForbidden)
	rr = env.do(t, http.MethodDelete, "/api/users/u2", "admin-token", nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = env.do(t, http.MethodDelete, "/api/users/u2", "admin-token", nil)
	expectStatus(t, rr, http.StatusNotFound)
}
