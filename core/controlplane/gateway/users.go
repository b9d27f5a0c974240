package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/schema"
	"github.com/nodeflow/nodeflow/core/users"
)

// profileView is the listing shape of a profile.
type profileView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	AvatarURL string     `json:"avatar_url"`
	Role      users.Role `json:"role"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func viewOf(p *users.Profile) profileView {
	return profileView{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		Role:      p.Role,
		UpdatedAt: p.UpdatedAt,
	}
}

// selfOrAdmin writes 403 unless the caller owns id or is an admin.
func selfOrAdmin(w http.ResponseWriter, r *http.Request, id string) bool {
	ident := identityFromRequest(r)
	if ident == nil || (ident.UserID != id && !ident.isAdmin()) {
		writeError(w, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.profiles.List(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]profileView, 0, len(list))
	for _, p := range list {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(w, r, id) {
		return
	}
	p, err := s.profiles.Get(r.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

type createUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := schema.Validate(schema.Profile, json.RawMessage(body)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createUserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	role, err := users.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := &users.Profile{ID: req.ID, Email: req.Email, Name: req.Name, Role: role}
	err = s.profiles.Create(r.Context(), p)
	switch {
	case errors.Is(err, users.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil && p.ID == "":
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type updateUserRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Role      *string `json:"role"`
}

// handleUpdateUser applies name and avatar_url; role changes are honoured
// only for admins and silently dropped otherwise.
func (s *server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(w, r, id) {
		return
	}
	var req updateUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	upd := users.ProfileUpdate{Name: req.Name, AvatarURL: req.AvatarURL}
	if req.Role != nil && identityFromRequest(r).isAdmin() {
		role, err := users.ParseRole(*req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Role = &role
	}

	var (
		p   *users.Profile
		err error
	)
	if upd.Empty() {
		p, err = s.profiles.Get(r.Context(), id)
	} else {
		p, err = s.profiles.Update(r.Context(), id, upd)
	}
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	err := s.profiles.Delete(r.Context(), r.PathValue("id"))
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
