package controllers

import (
	"net/http"
	"strings"

	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/api/validators"
	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

// FlameBalance returns the caller's spendable flames.
func FlameBalance(svc flames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		balance, err := svc.Balance(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"balance": balance})
	}
}

// FlameEntries pages through the caller's ledger, newest first.
func FlameEntries(svc flames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.Entries(ctx, userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		view := ledgerPageView{Items: make([]ledgerEntryView, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, entry := range page.Items {
			view.Items = append(view.Items, newLedgerEntryView(entry))
		}
		responses.WriteSuccess(w, view)
	}
}
