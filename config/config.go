package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. It is built once at startup
// and passed by pointer into every component that needs it.
type Config struct {
	Port          string
	PublicBaseURL string // Scheme and host used to build playback and key URLs

	JWTSecret string
	TokenTTL  time.Duration

	FFmpegPath        string
	FFprobePath       string
	HLSSegmentTime    int    // seconds
	Renditions        string // e.g. "360p:640x360:800:96,720p:1280x720:2800:128"; empty means the default ladder
	WatermarkPath     string // Optional PNG composited onto every rendition
	EncodeTimeout     time.Duration
	MaxConcurrentJobs int

	UploadDir     string // Raw uploads: UploadDir/{timestamp}-{name}
	MediaDir      string // Converted output: MediaDir/{id}/...
	MaxUploadSize int64  // bytes

	KeyPath     string
	KeyInfoPath string
	KeyURI      string
	KeyIV       string // Optional hex IV written into the key-info file

	DBDriver   string // mysql | memory
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	MediaBackend   string // local | minio
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	AdminUsername string // Optional bootstrap admin created at startup
	AdminPassword string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"

	BackendLocal = "local"
	BackendMinio = "minio"
)

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// siblingFFprobe guesses ffprobe next to ffmpeg, renaming only the binary.
func siblingFFprobe(ffmpegPath string) string {
	dir, name := filepath.Split(ffmpegPath)
	return dir + strings.Replace(name, "ffmpeg", "ffprobe", 1)
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	baseURL := strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/")
	keyDir := getEnv("KEY_DIR", "keys")

	return &Config{
		Port:          getEnv("PORT", "3000"),
		PublicBaseURL: baseURL,

		JWTSecret: os.Getenv("JWT_SECRET"), // no default on purpose
		TokenTTL:  getEnvDuration("TOKEN_TTL", time.Hour),

		FFmpegPath:        ffmpegPath,
		FFprobePath:       getEnv("FFPROBE_PATH", siblingFFprobe(ffmpegPath)),
		HLSSegmentTime:    getEnvInt("HLS_SEGMENT_TIME", 10),
		Renditions:        getEnv("HLS_RENDITIONS", ""),
		WatermarkPath:     getEnv("WATERMARK_PATH", ""),
		EncodeTimeout:     getEnvDuration("ENCODE_TIMEOUT", 2*time.Hour),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),

		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		MediaDir:      getEnv("MEDIA_DIR", "videos"),
		MaxUploadSize: int64(getEnvInt("MAX_UPLOAD_MB", 2048)) << 20,

		KeyPath:     getEnv("KEY_PATH", filepath.Join(keyDir, "enc.key")),
		KeyInfoPath: getEnv("KEY_INFO_PATH", filepath.Join(keyDir, "key_info.txt")),
		KeyURI:      getEnv("KEY_URI", baseURL+"/key"),
		KeyIV:       getEnv("KEY_IV", ""),

		DBDriver:   getEnv("DB_DRIVER", DriverMySQL),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "hlsgate"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),

		MediaBackend:   getEnv("MEDIA_BACKEND", BackendLocal),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "hlsgate"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.MediaBackend {
	case BackendLocal, BackendMinio:
	default:
		return fmt.Errorf("unsupported MEDIA_BACKEND %q", c.MediaBackend)
	}
	if c.HLSSegmentTime <= 0 {
		return fmt.Errorf("HLS_SEGMENT_TIME must be positive, got %d", c.HLSSegmentTime)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// MySQLDSN returns the DSN used by the GORM MySQL driver.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
