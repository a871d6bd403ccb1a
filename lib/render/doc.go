// Package render serializes tunnel core configuration to TOML text.
//
// Tunnel binaries read small, flat TOML files: a handful of tables holding
// scalar keys. Rather than formatting those files ad hoc in every adapter,
// adapters build a Document and let this package handle quoting, escaping and
// value formatting:
//
//	doc := render.NewDocument()
//	doc.Table("client").
//	    Set("remote_addr", "1.2.3.4:9000").
//	    Set("connection_pool", 4)
//	text := doc.String()
//
// Tables and keys render in insertion order so output is deterministic.
package render
