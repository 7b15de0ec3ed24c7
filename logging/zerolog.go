package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

type zlogger struct {
	z zerolog.Logger
}

// NewZerolog adapts a zerolog logger.
func NewZerolog(z zerolog.Logger) Logger {
	return &zlogger{z: z}
}

func (l *zlogger) with(kv []any) Logger {
	return &zlogger{z: l.z.With().Fields(pairs(kv)).Logger()}
}

func (l *zlogger) Debug(msg string, kv ...any) { l.z.Debug().Fields(pairs(kv)).Msg(msg) }
func (l *zlogger) Info(msg string, kv ...any)  { l.z.Info().Fields(pairs(kv)).Msg(msg) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.z.Warn().Fields(pairs(kv)).Msg(msg) }
func (l *zlogger) Error(msg string, kv ...any) { l.z.Error().Fields(pairs(kv)).Msg(msg) }

// pairs turns an alternating kv list into zerolog fields. A trailing key
// without a value is kept under "!BADKEY".
func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			out["!BADKEY"] = kv[i]
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out[key] = kv[i+1]
	}
	return out
}
