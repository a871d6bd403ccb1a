// Package rathole drives the rathole reverse tunnel client. Each tunnel gets a
// token-authenticated client config of its own and one rathole process reading
// it.
package rathole
