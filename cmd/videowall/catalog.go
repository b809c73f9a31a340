package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/catalog"
)

var importDB string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and manage the camera catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()

		cameras, err := cat.Cameras()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cameras)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCANDIDATES\tOVERRIDES")
		fmt.Fprintln(w, "--\t----\t----------\t---------")
		for _, cam := range cameras {
			descs, err := cat.ResolveCandidates(cam)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", cam.ID, cam.Name, len(descs), !cam.Overrides.IsZero())
		}
		return w.Flush()
	},
}

var catalogCandidatesCmd = &cobra.Command{
	Use:   "candidates <camera>",
	Short: "Show the ordered candidate streams of a camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()

		cam, err := cat.Camera(args[0])
		if err != nil {
			return err
		}
		descs, err := cat.ResolveCandidates(cam)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(descs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "#\tKIND\tLABEL\tCODEC\tRESOLUTION\tLATENCY\tSOURCE")
		fmt.Fprintln(w, "-\t----\t-----\t-----\t----------\t-------\t------")
		for _, d := range descs {
			source := d.URI
			if d.Pipeline != "" {
				source = d.Pipeline
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%dms\t%s\n",
				d.Index, d.Kind, d.DisplayLabel(), d.Codec, d.Resolution, d.LatencyMS, source)
		}
		return w.Flush()
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the cameras of the config file into a SQLite catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := importDB
		if path == "" {
			path = cfg.Catalog.SQLitePath
		}
		if path == "" {
			return fmt.Errorf("no database path (use --db or catalog.sqlite_path)")
		}

		db, err := catalog.OpenSQLite(path)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Import(cfg.Cameras)
		if err != nil {
			return fmt.Errorf("import stopped after %d cameras: %w", n, err)
		}
		fmt.Printf("Imported %d cameras into %s\n", n, path)
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy <camera>",
	Short: "Show the effective supervision policy of a camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := catalog.Open(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		cam, err := cat.Camera(args[0])
		if err != nil {
			return err
		}
		resolver, err := streamsupervisor.NewPolicyResolver(cfg.PolicyDefaults(), cfg.HonorCameraOverrides())
		if err != nil {
			return err
		}
		p := resolver.Resolve(cam)
		if jsonOutput {
			return printJSON(p)
		}

		o := cam.Overrides
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KNOB\tVALUE\tSOURCE")
		fmt.Fprintln(w, "----\t-----\t------")
		fmt.Fprintf(w, "autostart\t%v\t%s\n", p.Autostart, source(o.Autostart != nil, cfg.HonorCameraOverrides()))
		fmt.Fprintf(w, "failover_enabled\t%v\t%s\n", p.FailoverEnabled, source(o.FailoverEnabled != nil, cfg.HonorCameraOverrides()))
		fmt.Fprintf(w, "connect_timeout_s\t%d\t%s\n", p.ConnectTimeoutSec, source(o.ConnectTimeoutSec != nil, cfg.HonorCameraOverrides()))
		fmt.Fprintf(w, "loss_timeout_s\t%d\t%s\n", p.LossTimeoutSec, source(o.LossTimeoutSec != nil, cfg.HonorCameraOverrides()))
		fmt.Fprintf(w, "auto_reconnect\t%v\t%s\n", p.AutoReconnect, source(o.AutoReconnect != nil, cfg.HonorCameraOverrides()))
		fmt.Fprintf(w, "reconnect_interval_s\t%d\t%s\n", p.ReconnectIntervalSec, source(o.ReconnectIntervalSec != nil, cfg.HonorCameraOverrides()))
		return w.Flush()
	},
}

func init() {
	catalogImportCmd.Flags().StringVar(&importDB, "db", "", "SQLite database path (default: catalog.sqlite_path)")
	catalogCmd.AddCommand(catalogListCmd, catalogCandidatesCmd, catalogImportCmd)
}

func openCatalog() (catalog.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return catalog.Open(cfg)
}

func source(overridden, honored bool) string {
	if overridden && honored {
		return "camera"
	}
	return "default"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
