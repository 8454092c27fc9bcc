package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/api/validators"
	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/pagination"
	"github.com/beatdrop/battles-backend/pkg/visibility"
)

// VoteChecker answers whether a user has voted in a battle.
type VoteChecker interface {
	HasVoted(ctx context.Context, battleID, voterID uuid.UUID) (bool, error)
}

type createBattleRequest struct {
	Title      string  `json:"title" validate:"required,max=512"`
	BeatID     string  `json:"beatId" validate:"required,uuid"`
	OpponentID *string `json:"opponentId" validate:"omitempty,uuid"`
	EntryRef   string  `json:"entryRef" validate:"required,max=2048"`
}

type acceptBattleRequest struct {
	EntryRef string `json:"entryRef" validate:"required,max=2048"`
}

// BattleCreate opens a battle for the caller.
func BattleCreate(svc battles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		challengerID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body createBattleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := battles.CreateInput{
			ChallengerID: challengerID,
			BeatID:       uuid.MustParse(body.BeatID),
			Title:        validators.CleanText(body.Title, 0),
			EntryRef:     strings.TrimSpace(body.EntryRef),
		}
		if body.OpponentID != nil {
			opponentID := uuid.MustParse(*body.OpponentID)
			input.OpponentID = &opponentID
		}

		battle, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newBattleView(battle, false))
	}
}

// BattleList lists battles, optionally filtered by status or participant.
func BattleList(svc battles.Service, votes VoteChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		viewer := callerID(ctx)

		var err error
		filter := battles.ListFilter{}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseBattleStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filter.Status = &status
		}
		if filter.ParticipantID, err = validators.ParseQueryUUID(r, "participantId"); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if filter.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if filter.Offset, err = validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.List(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view := battleListView{
			Items:   make([]battleView, 0, len(result.Items)),
			Limit:   result.Limit,
			Offset:  result.Offset,
			HasMore: result.HasMore,
		}
		for i := range result.Items {
			visible, err := countsVisible(ctx, votes, &result.Items[i], viewer)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			view.Items = append(view.Items, newBattleView(&result.Items[i], visible))
		}
		responses.WriteSuccess(w, view)
	}
}

// BattleGet returns one battle, settling it first if its window elapsed.
func BattleGet(svc battles.Service, votes VoteChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		viewer := callerID(ctx)

		battle, err := svc.Get(ctx, battleID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		visible, err := countsVisible(ctx, votes, battle, viewer)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBattleView(battle, visible))
	}
}

// BattleAccept joins an open battle as the opponent.
func BattleAccept(svc battles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		accepterID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body acceptBattleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		battle, err := svc.Accept(ctx, battles.AcceptInput{
			BattleID:   battleID,
			AccepterID: accepterID,
			EntryRef:   strings.TrimSpace(body.EntryRef),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBattleView(battle, false))
	}
}

func countsVisible(ctx context.Context, votes VoteChecker, battle *models.Battle, viewer *uuid.UUID) (bool, error) {
	tv := visibility.TallyViewer{ViewerID: viewer}
	if visibility.NeedsVoteLookup(battle, viewer) && votes != nil {
		voted, err := votes.HasVoted(ctx, battle.ID, *viewer)
		if err != nil {
			return false, err
		}
		tv.HasVoted = voted
	}
	return visibility.CountsVisible(battle, tv), nil
}
