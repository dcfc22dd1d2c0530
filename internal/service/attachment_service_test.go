package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trekmates/chat-api/internal/models"
)

type storageStub struct {
	uploaded bytes.Buffer
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + name, nil
}

type attachmentRepoStub struct {
	record models.Attachment
}

func (a *attachmentRepoStub) Create(ctx context.Context, record *models.Attachment) error {
	record.ID = 1
	a.record = *record
	return nil
}

func TestAttachmentServiceRejectsSize(t *testing.T) {
	storage := &storageStub{}
	repo := &attachmentRepoStub{}
	svc := NewAttachmentService(storage, repo, 1, zerolog.Nop())

	file := buildFileHeader(t, "huge.png", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, err := svc.Store(context.Background(), file, "u1")
	require.ErrorIs(t, err, ErrAttachmentTooLarge)
}

func TestAttachmentServiceRejectsNonImagePayloads(t *testing.T) {
	storage := &storageStub{}
	repo := &attachmentRepoStub{}
	svc := NewAttachmentService(storage, repo, 5, zerolog.Nop())

	// Extension lies; detection runs on content.
	file := buildFileHeader(t, "notes.png", []byte("plain text pretending"))
	_, err := svc.Store(context.Background(), file, "u1")
	require.ErrorIs(t, err, ErrAttachmentTypeNotAllowed)
}

func TestAttachmentServiceStoresImages(t *testing.T) {
	storage := &storageStub{}
	repo := &attachmentRepoStub{}
	svc := NewAttachmentService(storage, repo, 5, zerolog.Nop())

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	file := buildFileHeader(t, "Trail Photo.png", pngHeader)

	resp, err := svc.Store(context.Background(), file, "u1")
	require.NoError(t, err)
	require.Contains(t, resp.URL, "cdn.example.com")
	require.Equal(t, "image/png", repo.record.MimeType)
	require.Equal(t, "u1", repo.record.UserID)
	require.NotEmpty(t, repo.record.Checksum)
	require.Equal(t, int64(len(pngHeader)), repo.record.SizeBytes)
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
