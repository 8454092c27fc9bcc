package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/api/middleware"
	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/api/validators"
	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/flames"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
)

const maxGrantReasonRunes = 256

type creditFlamesRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=256"`
}

// AdminBattleClose settles an active battle before its window elapses.
func AdminBattleClose(svc battles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		actor, err := actorFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		battle, err := svc.ForceClose(ctx, battleID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBattleView(battle, true))
	}
}

// AdminBattleCancel voids a battle and refunds every vote charge.
func AdminBattleCancel(svc battles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		actor, err := actorFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Cancel(ctx, battleID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"battle":        newBattleView(result.Battle, true),
			"refundedVotes": result.RefundedVotes,
		})
	}
}

// AdminFlamesCredit grants flames to a user. The request's Idempotency-Key
// doubles as the ledger key so a replayed grant is applied once.
func AdminFlamesCredit(svc flames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFromContext(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
		if key == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		var body creditFlamesRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		receipt, err := svc.Credit(ctx, nil, flames.Input{
			UserID:         uuid.MustParse(body.UserID),
			Amount:         body.Amount,
			IdempotencyKey: flames.GrantKey(key),
			Reason:         validators.CleanText(body.Reason, maxGrantReasonRunes),
			Actor:          &actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusCreated
		if receipt.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, creditView{
			Entry:    newLedgerEntryView(receipt.Entry),
			Replayed: receipt.Replayed,
		})
	}
}
