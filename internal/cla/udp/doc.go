// Package udp is the reference UDP convergence layer.
//
// Each datagram carries one bundle behind an 8-byte header holding the
// sending node number (big endian), so the receiver can attribute the
// bundle without parsing it:
//
//	[sender node u64][encoded bundle]
//
// An Output drains one duct: it dequeues, paces to the duct's declared rate
// and writes the datagram to the duct's address, then reports the
// transmission. An Input reads datagrams from the shared socket and hands
// them to the engine. A Daemon owns the socket, runs the Input and keeps
// one Output per udp duct in the plan table.
package udp
