// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// record store operations the pipeline and API consume. Each operation is
// atomic at the single-statement level; cross-operation consistency is the
// orchestrators' job.
type Interface interface {
	Open() error
	Close() error

	// users
	CreateUser(user *User) error
	GetUserByUsername(username string) (User, error)

	// images
	SaveImage(image *Image) error
	GetImage(id, ownerID uint) (Image, error)
	UpdateImagePaths(id, ownerID uint, expectedOriginal, newOriginal, newThumbnail string, width, height int) error
	UpdateImageFields(id, ownerID uint, fields map[string]any) error
	SoftDeleteImage(id, ownerID uint) (Image, error)
	SearchImages(ownerID uint, filter ImageFilter) ([]Image, int64, error)

	// tags
	UpsertTag(name, tagType string) (Tag, error)
	LinkImageTag(imageID, tagID uint) error
	UnlinkImageTag(imageID, tagID uint) error
	TagsForImage(imageID uint) ([]Tag, error)
	ListTags(ownerID uint) ([]TagUsage, error)
	SuggestTags(ownerID uint, keyword string, limit int) ([]Tag, error)
	GetTag(id uint) (Tag, error)
	DeleteTag(id uint) error
	CountImageTags(imageID uint) (int64, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a store instance for the configured driver.
func New(settings *conf.Settings) Interface {
	switch settings.Database.Driver {
	case conf.DatabaseDriverSQLite:
		return &SQLiteStore{Settings: settings}
	case conf.DatabaseDriverMySQL:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// CreateUser inserts a new user row. A username collision is reported as a
// conflict.
func (ds *DataStore) CreateUser(user *User) error {
	if err := ds.DB.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "Duplicate entry") {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryConflict).
				Context("operation", "create_user").
				Build()
		}
		return dbError(err, "create_user")
	}
	return nil
}

// GetUserByUsername retrieves a user by unique username.
func (ds *DataStore) GetUserByUsername(username string) (User, error) {
	var user User
	if err := ds.DB.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, errors.NotFoundError("user %q not found", username)
		}
		return User{}, dbError(err, "get_user")
	}
	return user, nil
}

// SaveImage inserts the full image record in one durable write.
func (ds *DataStore) SaveImage(image *Image) error {
	if err := ds.DB.Create(image).Error; err != nil {
		return dbError(err, "save_image")
	}
	return nil
}

// GetImage retrieves a live image owned by ownerID. Soft-deleted rows are
// treated as not found for ordinary lookups.
func (ds *DataStore) GetImage(id, ownerID uint) (Image, error) {
	var image Image
	err := ds.DB.Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, ownerID).
		First(&image).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Image{}, errors.NotFoundError("image %d not found", id)
		}
		return Image{}, dbError(err, "get_image")
	}
	return image, nil
}

// UpdateImagePaths swaps the record's file pointers and dimensions in a single
// durable write. The update is conditional on the record still referencing
// expectedOriginal; a concurrent mutation that already swapped the paths makes
// the update match zero rows, which is reported as a conflict so the caller
// can discard its freshly written files instead of clobbering the other
// mutation's.
func (ds *DataStore) UpdateImagePaths(id, ownerID uint, expectedOriginal, newOriginal, newThumbnail string, width, height int) error {
	result := ds.DB.Model(&Image{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL AND original_path = ?", id, ownerID, expectedOriginal).
		Updates(map[string]any{
			"original_path":  newOriginal,
			"thumbnail_path": newThumbnail,
			"width":          width,
			"height":         height,
		})
	if result.Error != nil {
		return dbError(result.Error, "update_image_paths")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("image %d paths changed concurrently or image missing", id).
			Component("datastore").
			Category(errors.CategoryConflict).
			Build()
	}
	return nil
}

// UpdateImageFields updates user-editable fields (description, filename) on a
// live image.
func (ds *DataStore) UpdateImageFields(id, ownerID uint, fields map[string]any) error {
	result := ds.DB.Model(&Image{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, ownerID).
		Updates(fields)
	if result.Error != nil {
		return dbError(result.Error, "update_image_fields")
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("image %d not found", id)
	}
	return nil
}

// SoftDeleteImage marks the image deleted and returns the record as it was,
// so the caller can remove the physical files afterwards.
func (ds *DataStore) SoftDeleteImage(id, ownerID uint) (Image, error) {
	image, err := ds.GetImage(id, ownerID)
	if err != nil {
		return Image{}, err
	}

	now := time.Now()
	result := ds.DB.Model(&Image{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, ownerID).
		Update("deleted_at", now)
	if result.Error != nil {
		return Image{}, dbError(result.Error, "soft_delete_image")
	}
	if result.RowsAffected == 0 {
		return Image{}, errors.NotFoundError("image %d not found", id)
	}
	return image, nil
}

// SearchImages returns a page of the owner's live images, newest first,
// optionally narrowed by tag name or description substring, together with the
// total match count.
func (ds *DataStore) SearchImages(ownerID uint, filter ImageFilter) ([]Image, int64, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 10
	}

	query := ds.DB.Model(&Image{}).
		Where("images.user_id = ? AND images.deleted_at IS NULL", ownerID)

	if filter.TagName != "" {
		query = query.
			Joins("JOIN image_tags ON image_tags.image_id = images.id").
			Joins("JOIN tags ON tags.id = image_tags.tag_id").
			Where("tags.name = ?", filter.TagName)
	}
	if filter.Description != "" {
		query = query.Where("images.description LIKE ?", "%"+filter.Description+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "count_images")
	}

	var images []Image
	err := query.Order("images.created_at DESC, images.id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&images).Error
	if err != nil {
		return nil, 0, dbError(err, "search_images")
	}
	return images, total, nil
}

// UpsertTag returns the tag row for name, creating it with the given type if
// absent. Concurrent creation racing on the unique name constraint is
// tolerated by re-reading the winner's row.
func (ds *DataStore) UpsertTag(name, tagType string) (Tag, error) {
	var tag Tag
	err := ds.DB.Where("name = ?", name).First(&tag).Error
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Tag{}, dbError(err, "get_tag")
	}

	tag = Tag{Name: name, Type: tagType}
	if err := ds.DB.Create(&tag).Error; err != nil {
		// Lost a race on the unique name constraint; the existing row wins.
		var existing Tag
		if ferr := ds.DB.Where("name = ?", name).First(&existing).Error; ferr == nil {
			return existing, nil
		}
		return Tag{}, dbError(err, "create_tag")
	}
	return tag, nil
}

// LinkImageTag associates a tag with an image. Re-asserting an existing link
// is a no-op, not an error.
func (ds *DataStore) LinkImageTag(imageID, tagID uint) error {
	var existing ImageTag
	err := ds.DB.Where("image_id = ? AND tag_id = ?", imageID, tagID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dbError(err, "get_image_tag")
	}

	link := ImageTag{ImageID: imageID, TagID: tagID}
	if err := ds.DB.Create(&link).Error; err != nil {
		// A concurrent link on the same pair hit the unique constraint first.
		var check ImageTag
		if ferr := ds.DB.Where("image_id = ? AND tag_id = ?", imageID, tagID).First(&check).Error; ferr == nil {
			return nil
		}
		return dbError(err, "link_image_tag")
	}
	return nil
}

// UnlinkImageTag removes the association; removing a non-existent link is a no-op.
func (ds *DataStore) UnlinkImageTag(imageID, tagID uint) error {
	if err := ds.DB.Where("image_id = ? AND tag_id = ?", imageID, tagID).Delete(&ImageTag{}).Error; err != nil {
		return dbError(err, "unlink_image_tag")
	}
	return nil
}

// TagsForImage returns all tags linked to the image, ordered by name.
func (ds *DataStore) TagsForImage(imageID uint) ([]Tag, error) {
	var tags []Tag
	err := ds.DB.Model(&Tag{}).
		Joins("JOIN image_tags ON image_tags.tag_id = tags.id").
		Where("image_tags.image_id = ?", imageID).
		Order("tags.name").
		Find(&tags).Error
	if err != nil {
		return nil, dbError(err, "tags_for_image")
	}
	return tags, nil
}

// ListTags returns the tags used by the owner's live images with usage counts.
func (ds *DataStore) ListTags(ownerID uint) ([]TagUsage, error) {
	var tags []TagUsage
	err := ds.DB.Model(&Tag{}).
		Select("tags.id, tags.name, tags.type, COUNT(image_tags.image_id) as usage_count").
		Joins("JOIN image_tags ON image_tags.tag_id = tags.id").
		Joins("JOIN images ON images.id = image_tags.image_id").
		Where("images.user_id = ? AND images.deleted_at IS NULL", ownerID).
		Group("tags.id, tags.name, tags.type").
		Order("tags.type, tags.name").
		Scan(&tags).Error
	if err != nil {
		return nil, dbError(err, "list_tags")
	}
	return tags, nil
}

// SuggestTags returns tags of the owner's live images matching the keyword.
func (ds *DataStore) SuggestTags(ownerID uint, keyword string, limit int) ([]Tag, error) {
	if limit <= 0 {
		limit = 10
	}
	var tags []Tag
	err := ds.DB.Model(&Tag{}).
		Distinct("tags.id, tags.name, tags.type, tags.created_at").
		Joins("JOIN image_tags ON image_tags.tag_id = tags.id").
		Joins("JOIN images ON images.id = image_tags.image_id").
		Where("images.user_id = ? AND images.deleted_at IS NULL", ownerID).
		Where("tags.name LIKE ?", "%"+keyword+"%").
		Limit(limit).
		Find(&tags).Error
	if err != nil {
		return nil, dbError(err, "suggest_tags")
	}
	return tags, nil
}

// GetTag retrieves a tag by id.
func (ds *DataStore) GetTag(id uint) (Tag, error) {
	var tag Tag
	if err := ds.DB.First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Tag{}, errors.NotFoundError("tag %d not found", id)
		}
		return Tag{}, dbError(err, "get_tag")
	}
	return tag, nil
}

// DeleteTag removes a custom tag and its associations. Auto tags are
// protected; they are owned by the tagger, not the user.
func (ds *DataStore) DeleteTag(id uint) error {
	tag, err := ds.GetTag(id)
	if err != nil {
		return err
	}
	if tag.Type != TagTypeCustom {
		return errors.ValidationError("auto-generated tags cannot be deleted")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tag_id = ?", id).Delete(&ImageTag{}).Error; err != nil {
			return dbError(err, "delete_tag_links")
		}
		if err := tx.Delete(&Tag{}, id).Error; err != nil {
			return dbError(err, "delete_tag")
		}
		return nil
	})
}

// CountImageTags returns the number of tag links on an image.
func (ds *DataStore) CountImageTags(imageID uint) (int64, error) {
	var count int64
	if err := ds.DB.Model(&ImageTag{}).Where("image_id = ?", imageID).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_image_tags")
	}
	return count, nil
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&User{}, &Image{}, &Tag{}, &ImageTag{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
			Colorful:      true,
		},
	)
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
