// Package config provides configuration management for the tabular tools.
//
// # Key Features
//
// - Config: one structure with Transfer, Storage, Logging and Observability sections
// - Defaults derived from the host (the batch budget follows available memory)
// - YAML files read through viper, with ${VAR_NAME} substitution
// - TABULAR_ environment overrides, e.g. TABULAR_TRANSFER_BATCH_BYTES=64m
// - Byte sizes with units: 4096, 64k, 32m, 1g (1024-based) or 10MB, 4MiB
//
// # Usage
//
//	cfg, err := config.Load("tabular.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	comp, err := cfg.Compression()
//
// A file only needs the keys it changes:
//
//	transfer:
//	  batch_bytes: 64m
//	  sample_rate: 0.1
//	storage:
//	  codec: lz4
//	  compression_level: 3
//	logging:
//	  level: ${TABULAR_LOG_LEVEL}
//
// Validate rejects out-of-range values with validation errors naming the
// offending key.
package config
