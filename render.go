package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/smite-net/smite-node/lib/backhaul"
	"github.com/smite-net/smite-node/lib/config"
	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/manifest"
	"github.com/smite-net/smite-node/lib/rathole"
)

var renderManifest string

var renderCmd = &cobra.Command{
	Use:   "render [tunnel-id...]",
	Short: "Print the client configs the manifest would produce, without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := renderManifest
		if path == "" {
			resolved, err := config.ManifestPath(config.CurrentConfig())
			if err != nil {
				return err
			}
			path = resolved
		}
		mf, err := manifest.Load(path)
		if err != nil {
			return err
		}
		want := make(map[string]bool, len(args))
		for _, id := range args {
			want[id] = true
		}
		out := cmd.OutOrStdout()
		for _, e := range mf.Tunnels {
			if len(want) > 0 && !want[e.ID] {
				continue
			}
			data, err := renderEntry(e)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# %s (%s)\n%s\n", e.ID, e.Core, data)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderManifest, "manifest", "m", "", "manifest file (default node.manifest)")
}

func renderEntry(e manifest.Entry) ([]byte, error) {
	backend, err := core.ParseBackend(e.Core)
	if err != nil {
		return nil, err
	}
	id := core.TunnelID(e.ID)
	switch backend {
	case core.BackendRathole:
		return rathole.RenderSpec(id, e.Spec)
	case core.BackendBackhaul:
		return backhaul.RenderSpec(e.Spec)
	}
	return nil, oops.Code(core.CodeUnknownBackend).Wrapf(core.ErrUnknownBackend, "no renderer for %s", backend)
}
