// Package logx is remindbot's logging layer: a thin wrapper (logx.Logger)
// over zerolog with a readable console sink, an optional JSON file sink, and
// an optional rate-limited Telegram sink for warnings.
package logx
