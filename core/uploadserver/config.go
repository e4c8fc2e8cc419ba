package uploadserver

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
		Port int    `envconfig:"SERVER_PORT" default:"8080"`
	}
	Storage struct {
		ChunksPath    string `envconfig:"CHUNKS_PATH" default:"chunks"`
		ArtifactsPath string `envconfig:"ARTIFACTS_PATH" default:"artifacts"`
		MetaPath      string `envconfig:"META_PATH" default:"meta"`
	}
	Janitor struct {
		SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
		SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
