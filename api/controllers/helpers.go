package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/api/middleware"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/outbox"
)

// callerID returns the authenticated user or nil for anonymous requests.
func callerID(ctx context.Context) *uuid.UUID {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	return &id.UserID
}

func requireCaller(ctx context.Context) (uuid.UUID, error) {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id.UserID, nil
}

func actorFromContext(ctx context.Context) (outbox.ActorRef, error) {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return outbox.ActorRef{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return outbox.ActorRef{UserID: id.UserID, Role: id.Role.String()}, nil
}
