// Package protocol owns the MDC wire contract constants.
//
// Ownership boundary:
// - wire constants shared by encoders, decoders and peers
// - frame/ request and response codec
// - session/ queue, completion, reliability defaults
//
// Request frame:
//
//	0xAA | command | display | len | data[len] | checksum
//
// Response frame:
//
//	0xAA | 0xFF | display | len | ack | command | data[len-2] | checksum
//
// The checksum is the additive sum modulo 256 of every byte after the leading 0xAA.
package protocol
