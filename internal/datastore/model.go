// model.go this code defines the data model for the application
package datastore

import "time"

// Tag types. Auto tags are produced by the auto-tagger, custom tags are
// user-authored. The type is immutable after creation.
const (
	TagTypeAuto   = "auto"
	TagTypeCustom = "custom"
)

// User represents an account that owns images.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null;size:64"`
	Email        string `gorm:"size:255"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// Image represents a stored photo: the original file, its derived thumbnail
// and the metadata extracted at ingestion time. Path fields are opaque blob
// store locators and are replaced wholesale by crop/adjust operations.
// A nil DeletedAt means the image is live; soft deletion only sets the
// timestamp, the row remains for audit.
type Image struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           uint   `gorm:"index:idx_images_user;not null"`
	OriginalFilename string `gorm:"size:255"`
	OriginalPath     string `gorm:"not null"`
	ThumbnailPath    string `gorm:"not null"`
	FileSize         int64
	Width            *int
	Height           *int
	TakenTime        *time.Time
	GPSLatitude      *float64
	GPSLongitude     *float64
	CameraModel      *string `gorm:"size:255"`
	Description      *string `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time
	DeletedAt        *time.Time `gorm:"index"`

	// Virtual field populated from the image_tags join for API responses
	Tags []Tag `gorm:"-"`
}

// Tag is a classification label shared across images. Name is unique
// system-wide so two images carrying the same label share one row.
type Tag struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null;size:128"`
	Type      string `gorm:"not null;size:16"`
	CreatedAt time.Time
}

// ImageTag links images to tags, unique per (image, tag) pair.
type ImageTag struct {
	ID      uint `gorm:"primaryKey"`
	ImageID uint `gorm:"uniqueIndex:idx_image_tag;not null;index"`
	TagID   uint `gorm:"uniqueIndex:idx_image_tag;not null;index"`
}

// TagUsage is a tag together with how many live images of the owner use it.
type TagUsage struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	UsageCount int    `json:"usage_count"`
}

// ImageFilter narrows SearchImages results. Zero values mean "no constraint".
type ImageFilter struct {
	TagName     string // only images carrying this tag
	Description string // substring match on description
	Page        int    // 1-based
	PageSize    int
}
