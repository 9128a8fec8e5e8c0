package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/pkg/httpx"
)

// OrgHandler serves organization management under /v1/org.
type OrgHandler struct {
	Orgs *service.OrgService
}

type orgResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrgResponse(o domain.Organization) orgResponse {
	return orgResponse{ID: o.ID, Name: o.Name, Slug: o.Slug, CreatedAt: o.CreatedAt}
}

type createOrgRequest struct {
	Name string `json:"name"`
}

// HandleCreate serves POST /v1/org.
func (h *OrgHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	userID := httpx.UserIDFromContext(r.Context())
	org, err := h.Orgs.CreateOrganization(r.Context(), userID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toOrgResponse(org))
}

// HandleGet serves GET /v1/org/{id}.
func (h *OrgHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserIDFromContext(r.Context())

	org, err := h.Orgs.GetOrganization(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toOrgResponse(org))
}

// HandleDelete serves DELETE /v1/org/{id}.
func (h *OrgHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserIDFromContext(r.Context())

	if err := h.Orgs.DeleteOrganization(r.Context(), userID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type memberResponse struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	IsOwner  bool      `json:"is_owner"`
	JoinedAt time.Time `json:"joined_at"`
}

// HandleListMembers serves GET /v1/org/{id}/members.
func (h *OrgHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserIDFromContext(r.Context())

	members, err := h.Orgs.ListMembers(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			UserID:   m.UserID,
			Email:    m.Email,
			Name:     m.Name,
			Role:     m.Role,
			IsOwner:  m.IsOwner,
			JoinedAt: m.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type inviteResponse struct {
	InviteToken string    `json:"invite_token"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HandleInvite serves POST /v1/org/{id}/invite. Delivery is out of band;
// the opaque token is returned to the caller for forwarding.
func (h *OrgHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	userID := httpx.UserIDFromContext(r.Context())
	opaque, inv, err := h.Orgs.InviteMember(r.Context(), userID, r.PathValue("id"), req.Email, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, inviteResponse{
		InviteToken: opaque,
		Email:       inv.Email,
		Role:        inv.Role,
		ExpiresAt:   inv.ExpiresAt,
	})
}

// HandleRemoveMember serves DELETE /v1/org/{id}/member/{userID}.
func (h *OrgHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	requesterID := httpx.UserIDFromContext(r.Context())

	err := h.Orgs.RemoveMember(r.Context(), requesterID, r.PathValue("id"), r.PathValue("userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// HandleUpdateRole serves PATCH /v1/org/{id}/member/{userID}/role.
func (h *OrgHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	requesterID := httpx.UserIDFromContext(r.Context())
	err := h.Orgs.UpdateRole(r.Context(), requesterID, r.PathValue("id"), r.PathValue("userID"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"user_id": r.PathValue("userID"),
		"role":    req.Role,
	})
}
