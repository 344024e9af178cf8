package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/osusume/data/db/catalog.db"
	}
	if cfg.Storage.ModelDir == "" {
		cfg.Storage.ModelDir = "/usr/local/var/osusume/data/model"
	}
	if cfg.Model.TopK == 0 {
		cfg.Model.TopK = 20
	}
	if cfg.Model.AlgoType == "" {
		cfg.Model.AlgoType = "TFIDF"
	}
	if cfg.Model.LockName == "" {
		// Shared with the batch rebuild pipeline. Renaming it here breaks
		// mutual exclusion against rebuilds still using the old name.
		cfg.Model.LockName = "cb_incremental_lock"
	}
	if cfg.Model.LockTimeoutSeconds == 0 {
		cfg.Model.LockTimeoutSeconds = 10
	}
	if cfg.Model.OOVWarnRatio == 0 {
		cfg.Model.OOVWarnRatio = 0.5
	}
}

// LockTimeout returns the configured lock acquisition bound as a duration.
func (m *ModelConfig) LockTimeout() time.Duration {
	return time.Duration(m.LockTimeoutSeconds) * time.Second
}
