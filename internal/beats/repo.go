// Package beats resolves beat references against the catalog mirror.
package beats

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db/models"
)

// Repository reads the mirrored beat catalog.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Exists reports whether the beat can be battled over.
func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Beat{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
