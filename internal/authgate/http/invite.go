package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/pkg/httpx"
)

// InviteHandler serves invite redemption. Minting lives on the org routes;
// redemption is its own surface because the caller may not belong to any
// organization yet.
type InviteHandler struct {
	Orgs *service.OrgService
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

type acceptInviteResponse struct {
	OrgID    string    `json:"org_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// HandleAccept serves POST /v1/invite/accept.
func (h *InviteHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	userID := httpx.UserIDFromContext(r.Context())
	email := httpx.EmailFromContext(r.Context())

	m, err := h.Orgs.AcceptInvite(r.Context(), userID, email, req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, acceptInviteResponse{
		OrgID:    m.OrgID,
		Role:     m.Role,
		JoinedAt: m.CreatedAt,
	})
}
