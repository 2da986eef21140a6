package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/addfeaturesnow/prodesk/internal/database"
	"github.com/addfeaturesnow/prodesk/internal/httputil"
)

type createGroupRequest struct {
	Name        string  `json:"name"`
	LeaderID    *string `json:"leader_id"`
	Description *string `json:"description"`
}

type addMemberRequest struct {
	DiverID string  `json:"diver_id"`
	Role    *string `json:"role"`
}

type createDiverRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.repo.ListGroups(r.Context())
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	g, err := s.repo.CreateGroup(r.Context(), database.NewGroup{
		Name:        req.Name,
		LeaderID:    req.LeaderID,
		Description: req.Description,
	})
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.DiverID == "" {
		httputil.BadRequest(w, "diver_id is required")
		return
	}

	m, err := s.repo.AddMember(r.Context(), database.NewMember{
		GroupID: mux.Vars(r)["groupId"],
		DiverID: req.DiverID,
		Role:    req.Role,
	})
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.repo.RemoveMember(r.Context(), vars["groupId"], vars["memberId"]); err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleListDivers(w http.ResponseWriter, r *http.Request) {
	divers, err := s.repo.ListDivers(r.Context())
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, divers)
}

func (s *Server) handleCreateDiver(w http.ResponseWriter, r *http.Request) {
	var req createDiverRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" {
		httputil.BadRequest(w, "name and email are required")
		return
	}

	d, err := s.repo.CreateDiver(r.Context(), database.NewDiver{Name: req.Name, Email: req.Email})
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// repoError maps ErrNotFound to 404 and anything else to 500, with the
// error message as the body.
func (s *Server) repoError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, database.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalError(w, err.Error())
}
