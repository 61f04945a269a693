package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapEmitter writes events as structured zap log entries. Events carrying an
// "error" meta field are logged at error level, routing fallbacks at warn
// level and everything else at info.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates an emitter on logger. A nil logger discards events.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger.Named("engine")}
}

// Emit implements Emitter.
func (z *ZapEmitter) Emit(event Event) {
	fields := make([]zap.Field, 0, 3+len(event.Meta))
	fields = append(fields,
		zap.String("thread_id", event.ThreadID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
	)
	for key, value := range event.Meta {
		fields = append(fields, zap.Any(key, value))
	}

	level := zapcore.InfoLevel
	switch {
	case event.Meta["error"] != nil:
		level = zapcore.ErrorLevel
	case event.Msg == "routing fallback":
		level = zapcore.WarnLevel
	}

	if ce := z.logger.Check(level, event.Msg); ce != nil {
		ce.Write(fields...)
	}
}
