package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Minio      MinioConfig
	OCR        OCRConfig
	Classifier ClassifierConfig
	Explain    ExplainConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type OCRConfig struct {
	// ConfidenceThreshold is the primary-engine confidence below which the
	// fallback engine is attempted.
	ConfidenceThreshold float64
	Language            string
	TimeoutSec          int

	// Vision-model settings for the handwriting-tuned primary engine.
	VisionAPIKey string
	VisionModel  string
}

type ClassifierConfig struct {
	// Classes is the fixed ordered class vocabulary shared by the
	// classifier and the explainability generator.
	Classes   []string
	MinWidth  int
	MinHeight int
}

type ExplainConfig struct {
	SHAPSamples  int
	LIMESamples  int
	LIMESegments int
	TimeoutSec   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/mediscan")

	viper.SetEnvPrefix("MEDISCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 20971520)

	viper.SetDefault("sqlite.path", "./data/mediscan.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.bucket", "mediscan-artifacts")
	viper.SetDefault("minio.useSSL", false)

	viper.SetDefault("ocr.confidenceThreshold", 0.60)
	viper.SetDefault("ocr.language", "eng")
	viper.SetDefault("ocr.timeoutSec", 30)
	viper.SetDefault("ocr.visionModel", "gpt-4o")

	viper.SetDefault("classifier.classes", []string{"Normal", "Pneumonia", "Tumor", "Fracture"})
	viper.SetDefault("classifier.minWidth", 64)
	viper.SetDefault("classifier.minHeight", 64)

	viper.SetDefault("explain.shapSamples", 100)
	viper.SetDefault("explain.limeSamples", 200)
	viper.SetDefault("explain.limeSegments", 64)
	viper.SetDefault("explain.timeoutSec", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
