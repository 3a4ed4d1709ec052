package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/embedding"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/liliang-cn/mindrag/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const embedWorkers = 4

// IngestService chunks, embeds and stores documents in the local index
type IngestService struct {
	chunkRepo *repository.ChunkRepository
	registry  *registry.Registry
	embedder  embedding.Embedder
	cfg       config.IngestConfig
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	chunkRepo *repository.ChunkRepository,
	reg *registry.Registry,
	embedder embedding.Embedder,
	cfg config.IngestConfig,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		chunkRepo: chunkRepo,
		registry:  reg,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
	}
}

// DetectFileType detects file type from filename
func DetectFileType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return domain.FileTypeMD
	case ".txt", ".text":
		return domain.FileTypeTXT
	case "":
		return ""
	default:
		return ext[1:]
	}
}

// IsSupported checks if file type is supported
func IsSupported(fileType string) bool {
	return fileType == domain.FileTypeTXT || fileType == domain.FileTypeMD
}

// IngestFile loads a file from disk into a domain
func (s *IngestService) IngestFile(ctx context.Context, domainID, path string) (*domain.IngestReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := s.checkSize(info.Size()); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.ingest(ctx, domainID, filepath.Base(path), data)
}

// IngestUpload loads an uploaded file into a domain
func (s *IngestService) IngestUpload(ctx context.Context, domainID string, file *multipart.FileHeader) (*domain.IngestReport, error) {
	if err := s.checkSize(file.Size); err != nil {
		return nil, err
	}
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return s.ingest(ctx, domainID, file.Filename, data)
}

func (s *IngestService) checkSize(size int64) error {
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidRequest, s.cfg.MaxFileSize)
	}
	return nil
}

func (s *IngestService) ingest(ctx context.Context, domainID, filename string, data []byte) (*domain.IngestReport, error) {
	if s.embedder == nil {
		return nil, errors.New("ingestion requires an embedding provider")
	}
	if _, ok := s.registry.Get(domainID); !ok {
		return nil, fmt.Errorf("%w: domain %s", domain.ErrNotFound, domainID)
	}
	fileType := DetectFileType(filename)
	if !IsSupported(fileType) {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidRequest, fileType)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: file is not valid UTF-8", domain.ErrInvalidRequest)
	}

	text := string(data)
	report := &domain.IngestReport{
		DomainID: domainID,
		Filename: filename,
		FileType: fileType,
		Title:    documentTitle(filename, fileType, text),
	}

	pieces := ChunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return report, nil
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	chunks := make([]*domain.Chunk, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i, piece := range pieces {
		g.Go(func() error {
			vector, err := s.embedder.Embed(gctx, piece)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}
			chunks[i] = &domain.Chunk{
				ID:        fmt.Sprintf("%s_%s_%d", domainID, stem, i),
				DomainID:  domainID,
				Text:      piece,
				Embedding: vector,
				Metadata: map[string]any{
					domain.MetadataKeySource:   domainID,
					domain.MetadataKeyTitle:    report.Title,
					domain.MetadataKeyFilename: filename,
					domain.MetadataKeyChunkIdx: i,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if err := s.chunkRepo.Add(ctx, c); err != nil {
			return nil, err
		}
	}
	report.ChunkCount = len(chunks)

	s.logger.Info("document ingested",
		zap.String("domain", domainID),
		zap.String("filename", filename),
		zap.Int("chunks", report.ChunkCount),
	)
	return report, nil
}

// ChunkText splits text into overlapping chunks of at most size runes,
// preferring paragraph and then sentence boundaries in the second half
// of each window.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if size < 1 {
		size = len(runes)
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = start + breakPoint(runes[start:end], size)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return chunks
}

// breakPoint returns the cut offset within window
func breakPoint(window []rune, size int) int {
	s := string(window)
	half := size / 2
	if i := strings.LastIndex(s, "\n\n"); i >= 0 && utf8.RuneCountInString(s[:i]) > half {
		return utf8.RuneCountInString(s[:i])
	}
	sentence := max(strings.LastIndex(s, ". "), strings.LastIndex(s, ".\n"))
	if sentence >= 0 && utf8.RuneCountInString(s[:sentence]) > half {
		return utf8.RuneCountInString(s[:sentence]) + 1
	}
	return len(window)
}

func documentTitle(filename, fileType, text string) string {
	if fileType == domain.FileTypeMD {
		for _, line := range strings.Split(text, "\n") {
			if title, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
				return strings.TrimSpace(title)
			}
		}
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
