// Package tgui provides small Telegram rendering helpers:
//   - HTML escaping and tag builders for ParseMode="HTML"
//   - Rune-safe truncation and address shortening
//   - URL-button inline keyboards
package tgui
