package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

// createDatabase initializes a temporary database for testing purposes.
// It ensures the database connection is opened and handles potential errors.
func createDatabase(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.Driver = conf.DatabaseDriverSQLite
	settings.Database.SQLite.Path = t.TempDir() + "/test.db"

	dataStore := New(settings)
	require.NoError(t, dataStore.Open(), "Failed to open database")

	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})

	return dataStore
}

func saveTestImage(t *testing.T, ds Interface, ownerID uint) Image {
	t.Helper()
	w, h := 3000, 2000
	image := Image{
		UserID:           ownerID,
		OriginalFilename: "holiday.jpg",
		OriginalPath:     "u1/img_a.jpg",
		ThumbnailPath:    "u1/thumbs/thumb_a.jpg",
		FileSize:         1024,
		Width:            &w,
		Height:           &h,
	}
	require.NoError(t, ds.SaveImage(&image))
	return image
}

func TestImageLifecycle(t *testing.T) {
	ds := createDatabase(t)
	saved := saveTestImage(t, ds, 1)
	require.NotZero(t, saved.ID)

	got, err := ds.GetImage(saved.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1/img_a.jpg", got.OriginalPath)
	assert.Equal(t, 3000, *got.Width)

	// Wrong owner is not found, not forbidden; existence is not leaked.
	_, err = ds.GetImage(saved.ID, 2)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateImagePathsConditional(t *testing.T) {
	ds := createDatabase(t)
	saved := saveTestImage(t, ds, 1)

	err := ds.UpdateImagePaths(saved.ID, 1, "u1/img_a.jpg", "u1/img_b.jpg", "u1/thumbs/thumb_b.jpg", 100, 50)
	require.NoError(t, err)

	got, err := ds.GetImage(saved.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1/img_b.jpg", got.OriginalPath)
	assert.Equal(t, "u1/thumbs/thumb_b.jpg", got.ThumbnailPath)
	assert.Equal(t, 100, *got.Width)
	assert.Equal(t, 50, *got.Height)

	// Stale expected path means another mutation already swapped the files.
	err = ds.UpdateImagePaths(saved.ID, 1, "u1/img_a.jpg", "u1/img_c.jpg", "u1/thumbs/thumb_c.jpg", 10, 10)
	assert.True(t, errors.IsConflict(err), "stale expected path must be a conflict")

	got, err = ds.GetImage(saved.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1/img_b.jpg", got.OriginalPath, "conflicting update must not change the record")
}

func TestSoftDeleteVisibility(t *testing.T) {
	ds := createDatabase(t)
	saved := saveTestImage(t, ds, 1)

	deleted, err := ds.SoftDeleteImage(saved.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, saved.OriginalPath, deleted.OriginalPath)

	// Ordinary lookups no longer see the image.
	_, err = ds.GetImage(saved.ID, 1)
	assert.True(t, errors.IsNotFound(err))

	// The row itself persists with deleted_at set.
	sqliteStore := ds.(*SQLiteStore)
	var raw Image
	require.NoError(t, sqliteStore.DB.First(&raw, saved.ID).Error)
	require.NotNil(t, raw.DeletedAt)
	assert.WithinDuration(t, time.Now(), *raw.DeletedAt, time.Minute)

	// Deleting twice is not found.
	_, err = ds.SoftDeleteImage(saved.ID, 1)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpsertTagIdempotent(t *testing.T) {
	ds := createDatabase(t)

	first, err := ds.UpsertTag("2023年", TagTypeAuto)
	require.NoError(t, err)
	second, err := ds.UpsertTag("2023年", TagTypeAuto)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same name must resolve to the same tag row")

	// Type is fixed at creation; a later upsert under another type still
	// resolves to the original row.
	third, err := ds.UpsertTag("2023年", TagTypeCustom)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, TagTypeAuto, third.Type)
}

func TestLinkImageTagIdempotent(t *testing.T) {
	ds := createDatabase(t)
	saved := saveTestImage(t, ds, 1)
	tag, err := ds.UpsertTag("landscape", TagTypeAuto)
	require.NoError(t, err)

	require.NoError(t, ds.LinkImageTag(saved.ID, tag.ID))
	require.NoError(t, ds.LinkImageTag(saved.ID, tag.ID), "re-asserting a link must be a no-op")

	count, err := ds.CountImageTags(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, ds.UnlinkImageTag(saved.ID, tag.ID))
	require.NoError(t, ds.UnlinkImageTag(saved.ID, tag.ID), "unlinking twice must be a no-op")

	count, err = ds.CountImageTags(saved.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteTagProtectsAutoTags(t *testing.T) {
	ds := createDatabase(t)

	auto, err := ds.UpsertTag("summer", TagTypeAuto)
	require.NoError(t, err)
	custom, err := ds.UpsertTag("vacation", TagTypeCustom)
	require.NoError(t, err)

	err = ds.DeleteTag(auto.ID)
	assert.True(t, errors.IsValidation(err), "auto tags must not be deletable")

	require.NoError(t, ds.DeleteTag(custom.ID))
	_, err = ds.GetTag(custom.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestSearchImages(t *testing.T) {
	ds := createDatabase(t)

	var withTag Image
	for i := 0; i < 15; i++ {
		img := saveTestImage(t, ds, 1)
		if i == 0 {
			withTag = img
		}
	}
	// Another owner's image must never appear.
	saveTestImage(t, ds, 2)

	tag, err := ds.UpsertTag("has-location", TagTypeAuto)
	require.NoError(t, err)
	require.NoError(t, ds.LinkImageTag(withTag.ID, tag.ID))

	page1, total, err := ds.SearchImages(1, ImageFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	assert.Len(t, page1, 10)

	page2, _, err := ds.SearchImages(1, ImageFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page2, 5)

	tagged, total, err := ds.SearchImages(1, ImageFilter{TagName: "has-location", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tagged, 1)
	assert.Equal(t, withTag.ID, tagged[0].ID)
}

func TestListAndSuggestTags(t *testing.T) {
	ds := createDatabase(t)
	img := saveTestImage(t, ds, 1)

	for _, name := range []string{"2023年", "2023年7月", "summer"} {
		tag, err := ds.UpsertTag(name, TagTypeAuto)
		require.NoError(t, err)
		require.NoError(t, ds.LinkImageTag(img.ID, tag.ID))
	}

	usage, err := ds.ListTags(1)
	require.NoError(t, err)
	assert.Len(t, usage, 3)
	for _, u := range usage {
		assert.Equal(t, 1, u.UsageCount)
	}

	suggestions, err := ds.SuggestTags(1, "2023", 10)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)

	// Other owners get no suggestions from this owner's images.
	none, err := ds.SuggestTags(2, "2023", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUserRoundtrip(t *testing.T) {
	ds := createDatabase(t)

	user := User{Username: "admin", Email: "admin@example.com", PasswordHash: "x"}
	require.NoError(t, ds.CreateUser(&user))
	require.NotZero(t, user.ID)

	got, err := ds.GetUserByUsername("admin")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = ds.GetUserByUsername("nobody")
	assert.True(t, errors.IsNotFound(err))
}
