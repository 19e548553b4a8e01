// Package config provides configuration management for the pokerboy client.
//
// The config package handles:
//   - Loading client settings from TOML files
//   - Environment overrides (POKERBOY_*)
//   - Validation of server, join and API settings
//   - Named profiles stored in a directory
//
// Configuration Format:
//
//	name = "work"
//	server_url = "wss://poker.example.com/socket"
//	username = "lucas"
//	secrets_dir = "/home/lucas/.pokerboy/secrets"
//	log_level = "info"
//	heartbeat_interval = "30s"
//	join_poll_interval = "10ms"
//	join_max_attempts = 100
//	create_timeout = "10s"
//	auto_claim_admin = true
//	api_host = "localhost"
//	api_port = 8080
//
// Keys missing from a file keep their default; unknown keys are rejected.
//
// Usage:
//
//	cfg, err := config.Load("pokerboy.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
//		log.Fatal(err)
//	}
//
//	dir := session.NewDirectory(transport, secrets, logger, cfg.DirectoryOptions())
//
// Profiles:
//
// Manager serves several named profiles from one directory, each stored as
// <name>.toml. default.toml is used as the default profile when present.
package config
