// Package tlsroots builds TLS configurations from PEM files.
//
// A node uses it to verify admin API clients against a CA bundle
// (server.http.client_ca_file). dtnmesh-cli uses it to trust a node's
// certificate authority and to present its own client certificate.
package tlsroots
