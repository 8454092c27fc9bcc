package beats

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/db/dbtest"
)

func TestRepositoryExists(t *testing.T) {
	conn := dbtest.Open(t)
	beat := dbtest.SeedBeat(t, conn, uuid.New())
	repo := NewRepository(conn)

	cases := map[string]struct {
		id   uuid.UUID
		want bool
	}{
		"known":   {id: beat.ID, want: true},
		"unknown": {id: uuid.New(), want: false},
		"nil":     {id: uuid.Nil, want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := repo.Exists(context.Background(), tc.id)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
