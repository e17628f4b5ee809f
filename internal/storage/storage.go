package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gorm.io/gorm"
)

const defaultMimeType = "text/markdown"

// SaveRequest describes one model output to persist.
type SaveRequest struct {
	SessionID            string
	StageSlug            string
	IterationNumber      int
	ModelID              string
	ContributionType     string
	DocumentKey          string
	Content              []byte
	MimeType             string
	TargetContributionID *string
	TokensUsedInput      int
	TokensUsedOutput     int
}

// RenderedDocument is an assembled document ready to be written.
type RenderedDocument struct {
	SessionID       string
	StageSlug       string
	IterationNumber int
	ModelID         string
	DocumentKey     string
	Content         []byte
	// SourceIDs are the contributions the document was assembled from.
	SourceIDs []string
}

// FileManager stores contribution content on the local filesystem and
// records each contribution in the contributions table.
type FileManager struct {
	root string
	db   *gorm.DB
}

func NewFileManager(root string, db *gorm.DB) *FileManager {
	if db == nil {
		panic("file manager requires a database handle")
	}
	return &FileManager{root: root, db: db}
}

func (f *FileManager) SaveContribution(ctx context.Context, req SaveRequest) (*models.Contribution, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.StageSlug) == "" {
		return nil, errors.New("save contribution: session and stage are required")
	}

	id := uuid.NewString()
	dir := f.stageDir(req.SessionID, req.IterationNumber, req.StageSlug)
	name := fmt.Sprintf("%s_%s_%s.md", clean(req.ModelID), clean(req.ContributionType), id[:8])

	if err := writeFile(filepath.Join(dir, name), req.Content); err != nil {
		return nil, err
	}

	mime := req.MimeType
	if mime == "" {
		mime = defaultMimeType
	}

	row := &models.Contribution{
		ID:                   id,
		SessionID:            req.SessionID,
		StageSlug:            req.StageSlug,
		IterationNumber:      req.IterationNumber,
		ModelID:              req.ModelID,
		ContributionType:     req.ContributionType,
		DocumentKey:          req.DocumentKey,
		StoragePath:          dir,
		FileName:             name,
		MimeType:             mime,
		SizeBytes:            int64(len(req.Content)),
		TargetContributionID: req.TargetContributionID,
		TokensUsedInput:      req.TokensUsedInput,
		TokensUsedOutput:     req.TokensUsedOutput,
		CreatedAt:            time.Now().UTC(),
	}
	if err := f.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("record contribution: %w", err)
	}
	return row, nil
}

// LoadContribution returns the contribution row and its content.
func (f *FileManager) LoadContribution(ctx context.Context, id string) (*models.Contribution, []byte, error) {
	row := &models.Contribution{}
	if err := f.db.WithContext(ctx).First(row, "id = ?", id).Error; err != nil {
		return nil, nil, fmt.Errorf("load contribution %s: %w", id, err)
	}
	content, err := os.ReadFile(filepath.Join(row.StoragePath, row.FileName))
	if err != nil {
		return nil, nil, fmt.Errorf("read contribution %s: %w", id, err)
	}
	return row, content, nil
}

// DocumentChunks returns the root contribution followed by every
// continuation that targets it, in creation order.
func (f *FileManager) DocumentChunks(ctx context.Context, rootID string) ([]*models.Contribution, [][]byte, error) {
	root, content, err := f.LoadContribution(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}

	var continuations []*models.Contribution
	if err := f.db.WithContext(ctx).
		Where("target_contribution_id = ?", rootID).
		Order("created_at ASC").
		Find(&continuations).Error; err != nil {
		return nil, nil, fmt.Errorf("list continuations of %s: %w", rootID, err)
	}

	rows := []*models.Contribution{root}
	chunks := [][]byte{content}
	for _, c := range continuations {
		data, err := os.ReadFile(filepath.Join(c.StoragePath, c.FileName))
		if err != nil {
			return nil, nil, fmt.Errorf("read contribution %s: %w", c.ID, err)
		}
		rows = append(rows, c)
		chunks = append(chunks, data)
	}
	return rows, chunks, nil
}

// SaveRendered writes an assembled document and marks its sources rendered.
func (f *FileManager) SaveRendered(ctx context.Context, doc RenderedDocument) (string, error) {
	dir := filepath.Join(f.stageDir(doc.SessionID, doc.IterationNumber, doc.StageSlug), "documents")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.md", clean(doc.ModelID), clean(doc.DocumentKey)))

	if err := writeFile(path, doc.Content); err != nil {
		return "", err
	}

	if len(doc.SourceIDs) > 0 {
		if err := f.db.WithContext(ctx).
			Model(&models.Contribution{}).
			Where("id IN ?", doc.SourceIDs).
			Update("is_rendered", true).Error; err != nil {
			return "", fmt.Errorf("mark rendered: %w", err)
		}
	}
	return path, nil
}

func (f *FileManager) stageDir(sessionID string, iteration int, stage string) string {
	return filepath.Join(f.root, clean(sessionID), fmt.Sprintf("iteration_%d", iteration), clean(stage))
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// clean keeps a path segment to letters, digits, dash and underscore.
func clean(segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, segment)
}
