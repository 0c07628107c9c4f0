package httpapi

import (
	"net/http"

	"mitsnews.org/internal/auth"
)

type meResponse struct {
	Profile      auth.Profile      `json:"profile"`
	Capabilities []auth.Capability `json:"capabilities"`
}

// handleMe returns the caller's profile and what the role allows.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if err := auth.RequireAuthenticated(session); err != nil {
		handleDomainError(w, r, err)
		return
	}
	profile := auth.Profile{ID: session.UserID, Email: session.Email, FullName: session.FullName, Role: session.Role}
	if a.profiles != nil {
		p, err := a.profiles.GetProfile(r.Context(), session.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		profile = p
	}
	writeJSON(w, http.StatusOK, meResponse{
		Profile:      profile,
		Capabilities: auth.Capabilities(profile.Role),
	})
}
