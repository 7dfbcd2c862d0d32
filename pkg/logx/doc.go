// Package logx configures codetraq's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The zero value is a safe no-op logger, so components can take a Logger
// without nil checks.
package logx
