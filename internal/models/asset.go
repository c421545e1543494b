package models

import "gorm.io/gorm"

// AssetKind classifies a produced media artifact.
type AssetKind string

const (
	AssetKindWAV  AssetKind = "wav"
	AssetKindMP3  AssetKind = "mp3"
	AssetKindMP4  AssetKind = "mp4"
	AssetKindJSON AssetKind = "json"
	AssetKindSRT  AssetKind = "srt"
)

// MimeType returns the canonical MIME type for the asset kind.
func (k AssetKind) MimeType() string {
	switch k {
	case AssetKindWAV:
		return "audio/wav"
	case AssetKindMP3:
		return "audio/mpeg"
	case AssetKindMP4:
		return "video/mp4"
	case AssetKindJSON:
		return "application/json"
	case AssetKindSRT:
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}

// Asset is a persistent media artifact produced by a succeeded job.
// Rows are written once and never mutated.
type Asset struct {
	BaseModel

	// JobID is the job that produced this asset.
	JobID ULID `gorm:"type:varchar(26);not null;index" json:"job_id"`

	// Kind classifies the artifact.
	Kind AssetKind `gorm:"not null;size:10" json:"kind"`

	// Mime is the served content type.
	Mime string `gorm:"not null;size:100" json:"mime"`

	// Path is the storage key, assets/YYYY/MM/UUID/filename.
	Path string `gorm:"not null;size:512" json:"path"`

	// URL is the externally resolvable location of the blob.
	URL string `gorm:"not null;size:1024" json:"url"`

	// DurationSec is the media duration reported by the probe tool.
	DurationSec float64 `json:"duration_sec,omitempty"`

	// SizeBytes is the blob size.
	SizeBytes int64 `json:"size_bytes"`

	// Meta carries artifact-specific details (sample rate, resolution, ...).
	Meta JSON `gorm:"type:text" json:"meta,omitempty"`
}

// TableName returns the table name for Asset.
func (Asset) TableName() string {
	return "assets"
}

// Validate performs basic validation on the asset.
func (a *Asset) Validate() error {
	if a.JobID.IsZero() {
		return ErrAssetJobRequired
	}
	if a.Path == "" {
		return ErrAssetPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the asset and generates a ULID.
func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if a.Mime == "" {
		a.Mime = a.Kind.MimeType()
	}
	return a.Validate()
}
