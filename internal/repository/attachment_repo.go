package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/trekmates/chat-api/internal/models"
)

// AttachmentRepository persists metadata about uploaded chat images.
type AttachmentRepository interface {
	Create(ctx context.Context, record *models.Attachment) error
}

type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository constructs a repository for attachment records.
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, record *models.Attachment) error {
	return r.db.WithContext(ctx).Create(record).Error
}
