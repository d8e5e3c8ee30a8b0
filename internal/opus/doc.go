// Package opus encodes interleaved float32 PCM to Ogg/Opus.
//
// Opus packets come from libopus through gopkg.in/hraban/opus.v2 and are
// framed one packet per Ogg page. Streams are read back with the
// github.com/jonas747/ogg decoder. Every stream starts with the two header
// pages required by RFC 7845 (OpusHead and OpusTags), so the first chunk a
// stream encoder hands out is playable on its own.
package opus
