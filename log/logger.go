package log

import "context"

// Logger is the structured logger handed to workflows and the dispatcher.
// Fields are merged into the log line in the order given.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]interface{}) // zerolog exits the process
	With(fields map[string]interface{}) Logger
}
