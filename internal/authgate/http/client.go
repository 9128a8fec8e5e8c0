package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/pkg/httpx"
)

// ClientHandler serves the authenticated caller's own endpoints under
// /v1/client.
type ClientHandler struct {
	Users *service.UserService
	Orgs  *service.OrgService
}

type profileResponse struct {
	User          profileUser  `json:"user"`
	Organizations []profileOrg `json:"organizations"`
	ActiveOrgID   string       `json:"active_org_id,omitempty"`
}

type profileUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type profileOrg struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Role    string `json:"role"`
	IsOwner bool   `json:"is_owner"`
}

// HandleMe serves GET /v1/client/me.
func (h *ClientHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserIDFromContext(r.Context())

	p, err := h.Users.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := profileResponse{
		User: profileUser{
			ID:          p.User.ID,
			Email:       p.User.Email,
			Name:        p.User.Name,
			LastLoginAt: p.User.LastLoginAt,
		},
		Organizations: make([]profileOrg, 0, len(p.Organizations)),
		ActiveOrgID:   p.ActiveOrgID,
	}
	for _, o := range p.Organizations {
		resp.Organizations = append(resp.Organizations, profileOrg{
			ID:      o.Org.ID,
			Name:    o.Org.Name,
			Slug:    o.Org.Slug,
			Role:    o.Role,
			IsOwner: o.IsOwner,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

type switchOrgRequest struct {
	OrgID string `json:"org_id"`
}

// HandleSwitchOrg serves PATCH /v1/client/switch-org.
func (h *ClientHandler) HandleSwitchOrg(w http.ResponseWriter, r *http.Request) {
	var req switchOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	userID := httpx.UserIDFromContext(r.Context())
	if err := h.Orgs.SwitchActiveOrg(r.Context(), userID, req.OrgID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"active_org_id": req.OrgID})
}
