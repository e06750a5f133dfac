// Package logging builds the worker's slog logger and carries request and
// feed scoped loggers through context.
//
// LOG_LEVEL (debug, info, warn, error) and LOG_FORMAT (json, text) select the
// handler. The request middleware stores a logger tagged with request_id in
// the context; check runs store one tagged with feed_id, source and run_id.
//
//	logger := logging.NewLogger()
//	ctx = logging.WithLogger(ctx, logging.WithFeed(logger, feedID, source))
//	logging.FromContext(ctx).Info("check started")
package logging
