// Package config loads the service configuration.
//
// Configuration is built in three steps. Defaults come first, then any number
// of YAML or JSON file layers (later layers override earlier ones field by
// field), then environment overrides. The environment names follow the
// deployment conventions of the service: ARANGO_HOSTS, ARANGO_DB_NAME,
// ARANGO_DEFAULT_LIMIT, AUDIT_LOG, AUDIT_LOG_DB, AUDIT_VERSIONING, NO_DELETE,
// RELOAD_SCHEMAS, AQL_LOG, LOG_LEVEL, CERT_FILE, KEY_FILE, CA_FILE and so on.
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yml")
//	loader.AddLayer("config/production.yml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Files are read with path and size checks; JSON layers additionally get a
// nesting depth check before decoding.
//
// SafeConfig wraps a Config for concurrent readers. Get hands out deep copies
// so a caller cannot mutate shared state; Update validates before swapping.
package config
