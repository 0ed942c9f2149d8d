package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// logLevelName maps the wire-level i32 to its name.
func logLevelName(level uint32) string {
	switch level {
	case 0:
		return "debug"
	case 1:
		return "info"
	case 2:
		return "warn"
	case 3:
		return "error"
	case 4:
		return "fatal"
	default:
		return "info"
	}
}

// hLog implements log(level, msg_ptr, msg_len) -> (). Logging is always
// permitted; it carries no capability check.
func hLog(ctx context.Context, mod api.Module, state *HostState, level, msgPtr, msgLen uint32) {
	msg, ok := readArg(mod, msgPtr, msgLen)
	if !ok {
		return
	}
	levelName := logLevelName(level)
	state.AppendLog(levelName, string(msg))

	switch levelName {
	case "debug":
		state.Logger.Debug(string(msg), zap.String("node_id", state.NodeID), zap.String("run_id", state.RunID))
	case "warn":
		state.Logger.Warn(string(msg), zap.String("node_id", state.NodeID), zap.String("run_id", state.RunID))
	case "error", "fatal":
		state.Logger.Error(string(msg), zap.String("node_id", state.NodeID), zap.String("run_id", state.RunID))
	default:
		state.Logger.Info(string(msg), zap.String("node_id", state.NodeID), zap.String("run_id", state.RunID))
	}
}
