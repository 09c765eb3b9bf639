// Package notifier turns chain events into Telegram buy alerts and delivers
// them to every chat watching the token.
//
// # Ordering
//
// Dispatch sends strictly in input order and stops at the first failed send,
// returning how many events were fully delivered. The caller advances the
// chain checkpoint only that far, so undelivered events are rescanned on the
// next cycle. Per-chat dedup keeps chats that already received an event from
// getting it twice while the set is warm.
//
// # Failures
//
// Permanent send errors (chat gone, bot blocked) disable the chat in the
// store. Transient errors honour the platform's retry-after hint by pausing
// later sends.
package notifier
