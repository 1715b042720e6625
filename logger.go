package tiercache

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger. Provide an adapter around your logging
// stack (see log/logrus, log/zap, log/slog). If Logger is nil in Options,
// logging is disabled.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// layerFields is the common shape of per-layer log lines. The "err" key is
// picked up by adapters that treat errors specially (logrus WithError, zap
// NamedError).
func layerFields(key, layer string, err error) Fields {
	f := Fields{"key": key, "layer": layer}
	if err != nil {
		f["err"] = err
	}
	return f
}
