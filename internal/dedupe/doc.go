// Package dedupe drops repeated deliveries of the same message.
//
// The real-time channel delivers at least once, and the same logical message
// can also arrive as a send response and again as a room broadcast. The
// session consults a Cache before routing an event so a repeat never reaches
// the unread counters.
package dedupe
