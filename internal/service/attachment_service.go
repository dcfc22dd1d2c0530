package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/observability"
	"github.com/trekmates/chat-api/internal/repository"
)

var (
	// ErrAttachmentTooLarge indicates the payload exceeded the configured limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds maximum allowed size")
	// ErrAttachmentTypeNotAllowed indicates the MIME type is not an image.
	ErrAttachmentTypeNotAllowed = errors.New("attachment type not allowed")
)

// Image types permitted for chat attachments.
var allowedAttachmentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AttachmentService validates and stores chat image attachments; the
// returned URL goes into an image-typed message body.
type AttachmentService interface {
	Store(ctx context.Context, file *multipart.FileHeader, userID string) (dto.AttachmentResponse, error)
}

type attachmentService struct {
	storage FileStorage
	repo    repository.AttachmentRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewAttachmentService constructs an attachment service.
func NewAttachmentService(storage FileStorage, repo repository.AttachmentRepository, maxSizeMB int, logger zerolog.Logger) AttachmentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &attachmentService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "attachment_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/trekmates/chat-api/internal/service/attachment"),
	}
}

func (s *attachmentService) Store(ctx context.Context, file *multipart.FileHeader, userID string) (dto.AttachmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attachment.store")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.AttachmentUploadLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		err := errors.New("file is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AttachmentResponse{}, err
	}

	if file.Size > s.maxSize {
		span.RecordError(ErrAttachmentTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.AttachmentResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.AttachmentResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		span.RecordError(ErrAttachmentTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	detected := strings.ToLower(strings.TrimSpace(strings.SplitN(mime.String(), ";", 2)[0]))
	span.SetAttributes(attribute.String("attachment.detected_mime", detected))
	if _, ok := allowedAttachmentTypes[detected]; !ok {
		span.RecordError(ErrAttachmentTypeNotAllowed)
		span.SetStatus(codes.Error, "type not allowed")
		return dto.AttachmentResponse{}, ErrAttachmentTypeNotAllowed
	}

	checksum := sha256.Sum256(buf.Bytes())
	name := sanitizeAttachmentName(file.Filename)
	span.SetAttributes(
		attribute.String("attachment.name", name),
		attribute.Int64("attachment.size_bytes", int64(buf.Len())),
	)

	url, err := s.storage.Upload(ctx, name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.AttachmentResponse{}, err
	}

	record := models.Attachment{
		UserID:    userID,
		URL:       url,
		MimeType:  detected,
		SizeBytes: int64(buf.Len()),
		Checksum:  hex.EncodeToString(checksum[:]),
	}
	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.AttachmentResponse{}, err
	}

	span.SetStatus(codes.Ok, "stored")
	return dto.NewAttachmentResponse(record), nil
}

func sanitizeAttachmentName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "attachment"
	}
	return base + strings.ToLower(filepath.Ext(name))
}
