// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (prefix|part|part)
//   - A simple, safe message builder with sensible defaults
//
// Everything defaults to ParseMode="HTML" with automatic escaping.
package tgui
