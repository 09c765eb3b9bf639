// Package telegram implements the bot transport on top of telebot.
//
// The adapter runs in exactly one inbound mode for its lifetime:
//   - polling: a getUpdates loop with exponential backoff on failure
//   - webhook: an http.Handler that acknowledges immediately and hands the
//     update to a bounded queue processed off the request path
//
// Outbound sends behave the same in both modes and return errors classified
// as transport.Permanent or transport.Transient.
package telegram
