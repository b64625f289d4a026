// Package conf handles loading and validation of application settings.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tkoskela/imagevault-go/internal/errors"
)

// Storage backend identifiers.
const (
	StorageBackendDisk  = "disk"
	StorageBackendMinio = "minio"
)

// Database driver identifiers.
const (
	DatabaseDriverSQLite = "sqlite"
	DatabaseDriverMySQL  = "mysql"
)

// HTTPSettings holds the HTTP server configuration.
type HTTPSettings struct {
	Listen string // listen address, e.g. ":8080"
}

// AuthSettings holds token and password hashing configuration.
type AuthSettings struct {
	JWTSecret   string
	TokenExpiry time.Duration
	BcryptCost  int
}

// DiskStorageSettings configures the sandboxed on-disk blob store.
type DiskStorageSettings struct {
	BaseDir string
}

// MinioStorageSettings configures the MinIO object-storage backend.
type MinioStorageSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StorageSettings selects and configures the blob storage backend.
type StorageSettings struct {
	Backend string // "disk" or "minio"
	Disk    DiskStorageSettings
	Minio   MinioStorageSettings
}

// SQLiteSettings configures the SQLite record store.
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures the MySQL record store.
type MySQLSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// DatabaseSettings selects and configures the record store driver.
type DatabaseSettings struct {
	Driver string // "sqlite" or "mysql"
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// ImageSettings holds the image pipeline tunables.
type ImageSettings struct {
	ThumbnailSize    int           // edge of the cover-fit square thumbnail in pixels
	JPEGQuality      int           // re-encode quality for derivatives
	MaxUploadBytes   int64         // upload size cap
	OperationTimeout time.Duration // bound for any single blob/derive operation
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug    bool
	HTTP     HTTPSettings
	Auth     AuthSettings
	Storage  StorageSettings
	Database DatabaseSettings
	Image    ImageSettings
}

// Load reads configuration from the given path (or the default search paths
// when path is empty) and returns validated settings. Missing file is not an
// error; defaults apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/imagevault")
		v.AddConfigPath("/etc/imagevault")
	}
	v.SetEnvPrefix("imagevault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenexpiry", 24*time.Hour)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("storage.backend", StorageBackendDisk)
	v.SetDefault("storage.disk.basedir", "uploads")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.bucket", "images")
	v.SetDefault("storage.minio.usessl", false)
	v.SetDefault("database.driver", DatabaseDriverSQLite)
	v.SetDefault("database.sqlite.path", "imagevault.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("image.thumbnailsize", 300)
	v.SetDefault("image.jpegquality", 80)
	v.SetDefault("image.maxuploadbytes", int64(10*1024*1024))
	v.SetDefault("image.operationtimeout", 30*time.Second)
}

// Validate checks the settings for inconsistencies.
func (s *Settings) Validate() error {
	switch s.Storage.Backend {
	case StorageBackendDisk:
		if s.Storage.Disk.BaseDir == "" {
			return configError("storage.disk.basedir must not be empty")
		}
	case StorageBackendMinio:
		if s.Storage.Minio.Endpoint == "" || s.Storage.Minio.Bucket == "" {
			return configError("storage.minio requires endpoint and bucket")
		}
	default:
		return configError(fmt.Sprintf("unknown storage backend %q", s.Storage.Backend))
	}

	switch s.Database.Driver {
	case DatabaseDriverSQLite:
		if s.Database.SQLite.Path == "" {
			return configError("database.sqlite.path must not be empty")
		}
	case DatabaseDriverMySQL:
		if s.Database.MySQL.Database == "" {
			return configError("database.mysql.database must not be empty")
		}
	default:
		return configError(fmt.Sprintf("unknown database driver %q", s.Database.Driver))
	}

	if s.Image.ThumbnailSize <= 0 {
		return configError("image.thumbnailsize must be positive")
	}
	if s.Image.JPEGQuality < 1 || s.Image.JPEGQuality > 100 {
		return configError("image.jpegquality must be between 1 and 100")
	}
	if s.Image.MaxUploadBytes <= 0 {
		return configError("image.maxuploadbytes must be positive")
	}
	if s.Image.OperationTimeout <= 0 {
		return configError("image.operationtimeout must be positive")
	}
	if s.Auth.BcryptCost < 4 || s.Auth.BcryptCost > 31 {
		return configError("auth.bcryptcost out of range")
	}
	return nil
}

// DSN builds the MySQL connection string.
func (s *MySQLSettings) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		s.Username, s.Password, s.Host, s.Port, s.Database)
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Build()
}
