package core

// Logger is implemented by the logging services.
// expected args: msg | error, map[string]interface{}, any value worth attaching to the log entry
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
