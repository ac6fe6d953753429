package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID uint32) *Logger {
	return &Logger{
		logger: l.logger.With().Uint32("session_id", sessionID).Logger(),
	}
}

// WithPeer adds peer_id context to logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer_id", peerID).Logger(),
	}
}

// WithChannel adds the remote device id a Channel multiplexes.
func (l *Logger) WithChannel(remoteDeviceID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("remote_device_id", remoteDeviceID).Logger(),
	}
}

// WithChunk adds chunk_id context to logger.
func (l *Logger) WithChunk(chunkID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("chunk_id", chunkID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// InterestSent logs an outbound Interest (initial send or resend).
func (l *Logger) InterestSent(sessionID uint32, chunkID string, resend bool) {
	l.logger.Debug().
		Uint32("session_id", sessionID).
		Str("chunk_id", chunkID).
		Bool("resend", resend).
		Msg("interest sent")
}

// SessionStateChanged logs a download or upload session state transition.
func (l *Logger) SessionStateChanged(sessionID uint32, chunkID, from, to string) {
	l.logger.Info().
		Uint32("session_id", sessionID).
		Str("chunk_id", chunkID).
		Str("from_state", from).
		Str("to_state", to).
		Msg("session state changed")
}

// PieceDropped logs a piece rejected by the stream cache (duplicate index
// or out-of-range).
func (l *Logger) PieceDropped(sessionID uint32, index uint32, reason string) {
	l.logger.Debug().
		Uint32("session_id", sessionID).
		Uint32("piece_index", index).
		Str("reason", reason).
		Msg("piece dropped")
}

// DownloadCanceled logs a download session entering Canceled.
func (l *Logger) DownloadCanceled(sessionID uint32, chunkID string, code string) {
	l.logger.Warn().
		Uint32("session_id", sessionID).
		Str("chunk_id", chunkID).
		Str("error_code", code).
		Msg("download canceled")
}

// DownloadFinished logs a download session reaching Finished.
func (l *Logger) DownloadFinished(sessionID uint32, chunkID string, duration time.Duration) {
	l.logger.Info().
		Uint32("session_id", sessionID).
		Str("chunk_id", chunkID).
		Float64("duration_seconds", duration.Seconds()).
		Msg("download finished")
}

// UploadMerged logs an UploadSession's encoder window narrowing after a
// PieceControl(Continue) loss report.
func (l *Logger) UploadMerged(sessionID uint32, chunkID string, maxIndex uint32, lostRanges int) {
	l.logger.Debug().
		Uint32("session_id", sessionID).
		Str("chunk_id", chunkID).
		Uint32("max_index", maxIndex).
		Int("lost_ranges", lostRanges).
		Msg("upload encoder window merged")
}

// ChannelLivenessProbe logs a ChannelEstimate round trip used for RTT
// tracking (the est_seq liveness echo).
func (l *Logger) ChannelLivenessProbe(remoteDeviceID string, sequence uint32, rtt time.Duration) {
	l.logger.Debug().
		Str("remote_device_id", remoteDeviceID).
		Uint32("sequence", sequence).
		Float64("rtt_ms", float64(rtt.Microseconds())/1000.0).
		Msg("channel liveness probe")
}

// ConnectionEstablished logs connection establishment.
func (l *Logger) ConnectionEstablished(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("QUIC connection established")
}

// ConnectionFailed logs connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("QUIC connection failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
