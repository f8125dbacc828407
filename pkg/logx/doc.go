// Package logx configures anyarchie's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON-structured
//   - an optional admin sink forwards WARN+ records to the operator's
//     Telegram chat, rate limited and never blocking the caller
package logx
