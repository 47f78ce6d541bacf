package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const sniffLen = 512

// allowedMimeTypes типы файлов, которые принимаются как доказательства по спору.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"application/zip": true,
}

// EvidenceStorage файловое хранилище доказательств, по каталогу на спор.
type EvidenceStorage struct {
	rootPath       string
	maxUploadBytes int64
}

func NewEvidenceStorage(rootPath string, maxUploadMB int64) (*EvidenceStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &EvidenceStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save определяет тип файла по сигнатуре, сохраняет его и возвращает
// относительный путь и MIME-тип.
func (s *EvidenceStorage) Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", "", fmt.Errorf("storage: не удалось прочитать файл: %w", err)
	}
	if n == 0 {
		return "", "", apperror.New(apperror.ErrCodeValidation, "файл не может быть пустым")
	}
	head = head[:n]

	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", "", apperror.New(apperror.ErrCodeValidation, "не удалось определить тип файла")
	}
	mimeType := kind.MIME.Value
	if !allowedMimeTypes[mimeType] {
		return "", "", apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("неподдерживаемый тип файла (%s)", mimeType))
	}

	dir := filepath.Join(s.rootPath, disputeID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("storage: не удалось создать каталог спора: %w", err)
	}

	base := strings.TrimSuffix(sanitizeFilename(originalName), filepath.Ext(originalName))
	fileName := fmt.Sprintf("%d_%s.%s", time.Now().UnixNano(), base, kind.Extension)
	targetPath := filepath.Join(dir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", "", fmt.Errorf("storage: не удалось создать файл: %w", err)
	}

	limited := &io.LimitedReader{R: io.MultiReader(bytes.NewReader(head), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, limited)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("storage: ошибка закрытия файла: %w", closeErr)
	}
	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", "", apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("размер файла превышает лимит %d байт", s.maxUploadBytes))
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}
	return filepath.Join(disputeID.String(), fileName), mimeType, nil
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." {
		name = "evidence"
	}
	return name
}
