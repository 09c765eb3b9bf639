// Package logx configures buyxanbot's structured logging.
//
// Call sites use a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limiting) for operator alerts
package logx
