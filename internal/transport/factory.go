package transport

import (
	"context"
	"fmt"
	"path/filepath"

	"uploaddesk/internal/config"
	"uploaddesk/internal/upload"
)

// New builds the transport selected in cfg, wrapped in a concurrency limit
// when one is configured.
func New(ctx context.Context, cfg config.Transport, dataDir string) (upload.Transport, error) {
	var t upload.Transport
	switch cfg.Kind {
	case config.TransportSimulated, "":
		t = upload.NewSimulator(upload.SimulatorOptions{
			Tick:         cfg.Simulated.Tick,
			MaxIncrement: cfg.Simulated.MaxIncrement,
			FailureRate:  cfg.Simulated.FailureRate,
			FailureAfter: cfg.Simulated.FailureAfter,
		})
	case config.TransportDisk:
		dir := cfg.Disk.Dir
		if dir == "" {
			dir = filepath.Join(dataDir, "files")
		}
		t = NewDisk(dir)
	case config.TransportHTTP:
		t = NewHTTP(cfg.HTTP.Endpoint, cfg.HTTP.FieldName, clientWithTimeout(cfg.HTTP.Timeout))
	case config.TransportS3:
		s3t, err := NewS3(ctx, S3Options{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			KeyPrefix:     cfg.S3.KeyPrefix,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PresignExpiry: cfg.S3.PresignExpiry,
		})
		if err != nil {
			return nil, err
		}
		t = s3t
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
	return Limit(t, cfg.MaxConcurrent), nil
}
