// Package config loads process configuration from environment variables.
//
// It combines github.com/joho/godotenv, which reads optional .env files, with
// github.com/caarlos0/env/v11, which fills structs from env tags. Each
// configuration type is parsed once and cached, so the worker, the admin
// server and the CLI all observe identical settings.
//
// # Usage
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Call LoadEnv with explicit paths to read additional .env files before the
// first Load. ResetCache clears the cache, which tests need after t.Setenv.
//
// # Error Handling
//
// ErrParsingConfig, ErrInvalidConfigType, ErrLoadingEnvFile and ErrNilPointer
// are sentinel errors; match them with errors.Is.
package config
