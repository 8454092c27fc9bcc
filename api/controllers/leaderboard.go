package controllers

import (
	"net/http"

	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/api/validators"
	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

// Leaderboard returns ranked standings, optionally as of a past instant.
func Leaderboard(svc leaderboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		asOf, err := validators.ParseQueryTime(r, "asOf")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := leaderboard.Query{Limit: limit, Offset: offset}
		if asOf != nil {
			query.AsOf = *asOf
		}
		page, err := svc.Page(ctx, query)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
