package domain

// File types accepted for ingestion
const (
	FileTypeTXT = "txt"
	FileTypeMD  = "md"
)

// Chunk metadata keys written at ingestion
const (
	MetadataKeySource   = "source"
	MetadataKeyTitle    = "title"
	MetadataKeyFilename = "filename"
	MetadataKeyChunkIdx = "chunk_idx"
)

// IngestReport is the outcome of loading one document into a domain
type IngestReport struct {
	DomainID   string `json:"domain_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	Title      string `json:"title"`
	ChunkCount int    `json:"chunk_count"`
}

// DomainInfo is the admin listing entry for a knowledge domain
type DomainInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	Weight      float64  `json:"weight"`
	Priority    int      `json:"priority"`
	Style       bool     `json:"style"`
	ChunkCount  int      `json:"chunk_count"`
}
