// Package wire encodes bundles, administrative records and contact notices
// as CBOR arrays.
//
// Every decode failure is reported as a domain error so that callers can
// discard the single offending unit and continue.
package wire
