/*
Package log provides structured logging for burrow using zerolog.

A single global Logger is configured once by Init from the serve command.
Until then it discards everything, which keeps package tests quiet.

# Configuration

  - Level: debug, info, warn or error (unknown values fall back to info)
  - JSONOutput: JSON lines for log shippers, console otherwise
  - Output: any io.Writer, stdout by default

# Context Loggers

Components take a child logger once and add per-request fields as they go:

	volLog := log.WithComponent("volume")
	opLog := log.WithVolumeID(volLog, req.VolumeUUID)
	opLog.Info().
		Str("operation", "createEmptyVolume").
		Str("install_path", req.InstallPath).
		Msg("volume created")

The API layer adds request_id through WithRequestID so async callbacks can
be correlated with the request that scheduled them.

Never log CHAP passwords or SSH private keys. Request structs carrying them
are logged field by field, not wholesale.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	logger := log.WithComponent("agent")
	logger.Info().Msg("burrow agent starting")
	log.Logger.Error().Err(err).Str("path", root).Msg("capacity probe failed")
*/
package log
