package backhaul

import (
	"slices"
	"strings"

	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/render"
)

// Transports lists the transport names backhaul accepts.
var Transports = []string{"tcp", "udp", "ws", "wsmux", "tcpmux"}

// OptionKeys are the client options copied from a spec, in render order.
// accept_udp is only copied for tcp and tcpmux.
var OptionKeys = []string{
	"connection_pool",
	"retry_interval",
	"nodelay",
	"keepalive_period",
	"log_level",
	"pprof",
	"mux_session",
	"mux_version",
	"mux_framesize",
	"mux_recievebuffer",
	"mux_streambuffer",
	"sniffer",
	"web_port",
	"sniffer_log",
	"dial_timeout",
	"aggressive_pool",
	"edge_ip",
	"skip_optz",
	"mss",
	"so_rcvbuf",
	"so_sndbuf",
	"accept_udp",
}

var optionDefaults = map[string]int{
	"connection_pool": 4,
	"retry_interval":  3,
	"dial_timeout":    10,
}

type entry struct {
	key   string
	value any
}

// clientConfig is the ordered [client] table for one tunnel.
type clientConfig struct {
	transport string
	entries   []entry
}

func (c *clientConfig) set(key string, value any) {
	for i := range c.entries {
		if c.entries[i].key == key {
			c.entries[i].value = value
			return
		}
	}
	c.entries = append(c.entries, entry{key, value})
}

func (c *clientConfig) has(key string) bool {
	return slices.ContainsFunc(c.entries, func(e entry) bool { return e.key == key })
}

func (c *clientConfig) get(key string) any {
	for _, e := range c.entries {
		if e.key == key {
			return e.value
		}
	}
	return nil
}

func parseSpec(spec core.Spec) (*clientConfig, error) {
	remote := spec.FirstString("remote_addr", "control_addr", "bind_addr")
	if remote == "" {
		return nil, core.NewValidationError(core.BackendBackhaul, "remote_addr",
			"backhaul requires 'remote_addr' in spec")
	}

	transport := strings.ToLower(spec.FirstString("transport", "type"))
	if transport == "" {
		transport = "tcp"
	}
	if !slices.Contains(Transports, transport) {
		return nil, core.NewValidationError(core.BackendBackhaul, "transport",
			"unsupported backhaul transport '%s'", transport)
	}

	opts := spec.Sub("client_options")
	cfg := &clientConfig{transport: transport}
	cfg.set("remote_addr", remote)
	cfg.set("transport", transport)

	if token := spec.String("token"); token != "" {
		cfg.set("token", token)
	} else if token := opts.String("token"); token != "" {
		cfg.set("token", token)
	}

	udpCapable := transport == "tcp" || transport == "tcpmux"
	for _, key := range OptionKeys {
		if key == "accept_udp" && !udpCapable {
			continue
		}
		v, ok := opts.Lookup(key)
		if !ok {
			v, ok = spec.Lookup(key)
		}
		if ok {
			cfg.set(key, v)
		}
	}
	for _, key := range OptionKeys {
		if def, ok := optionDefaults[key]; ok && !cfg.has(key) {
			cfg.set(key, def)
		}
	}

	if udpCapable && spec.Bool("accept_udp") {
		cfg.set("accept_udp", true)
	}
	return cfg, nil
}

// Render produces the backhaul client config.
func (c *clientConfig) Render() []byte {
	doc := render.NewDocument()
	client := doc.Table("client")
	for _, e := range c.entries {
		client.Set(e.key, e.value)
	}
	return doc.Bytes()
}

// RenderSpec validates spec and returns the config Apply would write.
func RenderSpec(spec core.Spec) ([]byte, error) {
	cfg, err := parseSpec(spec)
	if err != nil {
		return nil, err
	}
	return cfg.Render(), nil
}
