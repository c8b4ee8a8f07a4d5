// Package logx configures upgradebot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output stays JSON-structured
//   - warnings and errors can be mirrored to the admin log chat (min level + rate limit)
package logx
