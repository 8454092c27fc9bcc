package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/api/validators"
	"github.com/beatdrop/battles-backend/internal/votes"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
)

type castVoteRequest struct {
	ParticipantChoice string `json:"participantChoice" validate:"required"`
}

// VoteCast records or changes the caller's vote and returns the new tallies.
func VoteCast(svc votes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		voterID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body castVoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		choice, err := uuid.Parse(strings.TrimSpace(body.ParticipantChoice))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidChoice, err, "participantChoice must be a participant id"))
			return
		}

		result, err := svc.CastOrChange(ctx, votes.CastInput{
			BattleID:      battleID,
			VoterID:       voterID,
			ParticipantID: choice,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, tallyView{
			ChallengerVotes: result.Tallies.ChallengerVotes,
			OpponentVotes:   result.Tallies.OpponentVotes,
			Result:          string(result.Result),
		})
	}
}

// VoteStatus reports whether the caller has voted in a battle and for whom.
func VoteStatus(svc votes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		battleID, err := validators.ParseUUIDParam(r, "battleId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		voterID, err := requireCaller(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		vote, err := svc.VoteFor(ctx, battleID, voterID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		view := voteStatusView{}
		if vote != nil {
			view.HasVoted = true
			choice := vote.ChosenParticipantID
			view.ParticipantID = &choice
		}
		responses.WriteSuccess(w, view)
	}
}
