// Package ductserver serves external convergence-layer daemons over a Unix
// domain socket.
//
// Every message is one frame:
//
//	[len u32][crc32 u32][type u8][payload]
//
// len counts the type byte and the payload; the IEEE CRC covers the same
// bytes. Payloads are CBOR.
//
// A connection starts with Attach, naming a duct and a role. An output
// session then alternates DequeueReq (answered by Bundle) and XmitResult.
// An input session sends Enqueue frames. Every request gets exactly one
// answer; failures are answered with Error, which carries the error code.
//
// Bundles handed to an output session that disconnects before reporting
// are returned to the engine as failed transmissions.
package ductserver
