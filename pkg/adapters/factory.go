package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// New creates a loader based on kind and a generic configuration map.
// This is the central extension point for adding new loader types.
//
// Supported kinds:
//   - "http": HTTPLoader (url, method, headers, body, layout, valuePath,
//     datePath, recordsPath, dateFormat, templateVars, timeout)
//   - "postgres": PostgresLoader (dsn, query)
//   - "mysql": MySQLLoader (dsn, query)
//   - "static": empty StaticLoader
//
// Database loaders connect eagerly; ctx bounds the connection attempt.
// Returns error if kind is unknown or required fields are missing.
func New(ctx context.Context, kind string, config map[string]string) (Loader, error) {
	switch kind {
	case "http":
		return newHTTP(config)
	case "postgres":
		pool, err := ConnectPostgres(ctx, config["dsn"])
		if err != nil {
			return nil, err
		}
		return NewPostgresLoader(pool, config["query"]), nil
	case "mysql":
		return NewMySQLLoader(ctx, config["dsn"], config["query"])
	case "static":
		return NewStaticLoader(), nil
	default:
		return nil, fmt.Errorf("unknown loader kind: %s (must be http, postgres, mysql, or static)", kind)
	}
}

// newHTTP creates an HTTP loader from generic config.
func newHTTP(config map[string]string) (*HTTPLoader, error) {
	loader := &HTTPLoader{
		URL:         config["url"],
		Method:      config["method"],
		Body:        config["body"],
		Layout:      config["layout"],
		ValuePath:   config["valuePath"],
		DatePath:    config["datePath"],
		RecordsPath: config["recordsPath"],
		DateFormat:  config["dateFormat"],
	}

	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &loader.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &loader.TemplateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}
	if timeout := config["timeout"]; timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid 'timeout': %w", err)
		}
		loader.HTTPClient = &http.Client{Timeout: d}
	}

	if err := loader.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http loader: %w", err)
	}
	return loader, nil
}
