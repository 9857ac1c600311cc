// Package logging provides structured logging helpers shared by every
// mailagent component.
//
// All components log through log/slog. This package keeps attribute names
// consistent (operation, connection, tool, step, turn) and provides the
// redaction helpers that keep credentials and mailbox owners out of logs:
//
//	logger := logging.WithConnection(slog.Default(), conn.ID)
//	logger.Info("token refreshed",
//	    logging.OwnerHash(conn.OwnerID),
//	    slog.String("access_token", logging.SanitizeToken(tok)))
//
// Access and refresh tokens are never logged; SanitizeToken only reports a
// length. Owner identifiers and sender addresses are hashed or reduced to a
// domain before they reach a log line.
package logging
