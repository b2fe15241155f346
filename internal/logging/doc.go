// Package logging provides structured logging for grove.
//
// It wraps log/slog with a JSON handler so that bridge and CLI logs can be
// filtered after the fact. The bridge server never logs to stdout because
// stdout may carry protocol traffic; it writes to a rotating file under the
// user cache directory instead.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(path, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	log := logger.WithComponent("status").WithSession("feature-x")
//	log.Info("status changed", "status", "working")
//
// # Rotation
//
// [RotatingWriter] rotates the file once it exceeds MaxSizeMB, keeping
// MaxBackups numbered backups (path.1 is the newest). Rotated files can be
// gzip compressed.
//
// # Testing
//
// Use [NopLogger] when a component requires a logger but the test does not
// inspect output, or [NewWriterLogger] with a bytes.Buffer when it does.
package logging
