package mesh

// NoopLogger discards every event. Used when no Logger is configured.
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, fields map[string]interface{}) {}
func (NoopLogger) Info(msg string, fields map[string]interface{})  {}
func (NoopLogger) Warn(msg string, fields map[string]interface{})  {}
func (NoopLogger) Error(msg string, fields map[string]interface{}) {}
