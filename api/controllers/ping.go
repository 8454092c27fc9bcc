package controllers

import (
	"net/http"

	"github.com/beatdrop/battles-backend/api/middleware"
	"github.com/beatdrop/battles-backend/api/responses"
)

type pingView struct {
	Scope  string `json:"scope"`
	Status string `json:"status"`
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Ping answers a reachability probe for one route group, echoing the caller
// when the group authenticates.
func Ping(scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := pingView{Scope: scope, Status: "ok"}
		if id, ok := middleware.IdentityFromContext(r.Context()); ok {
			view.UserID = id.UserID.String()
			view.Role = id.Role.String()
		}
		responses.WriteSuccess(w, view)
	}
}
