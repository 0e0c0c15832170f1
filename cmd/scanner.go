package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

var (
	scannerKind       string
	scannerHost       string
	scannerPort       int
	scannerUnixSocket string
	scannerCACert     string
	scannerClientCert string
	scannerClientKey  string
)

var scannerCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Register and list scanner backends",
}

var scannerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered scanners",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db store.DB) error {
			scanners, err := store.NewScanners(db).ListScanners(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tNAME\tKIND\tHOST\tPORT")
			for _, s := range scanners {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.UUID, s.Name, s.Kind, s.Host, s.Port)
			}
			return tw.Flush()
		})
	},
}

var scannerCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a new scanner backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if scannerKind == "" {
			return fmt.Errorf("--kind is required (one of: CVE, OSP, OSP_SENSOR, HTTP_SCANNER, HTTP_SCANNER_SENSOR, AGENT_CONTROLLER, AGENT_CONTROLLER_SENSOR, CONTAINER_IMAGE)")
		}
		return withStore(func(ctx context.Context, db store.DB) error {
			sc := &model.Scanner{
				UUID:       uuid.NewString(),
				Name:       args[0],
				Kind:       model.ScannerKind(scannerKind),
				Host:       scannerHost,
				Port:       scannerPort,
				UnixSocket: scannerUnixSocket,
				CACert:     scannerCACert,
				ClientCert: scannerClientCert,
				ClientKey:  scannerClientKey,
			}
			if err := store.NewScanners(db).CreateScanner(ctx, sc); err != nil {
				return err
			}
			fmt.Println(sc.UUID)
			return nil
		})
	},
}

func init() {
	scannerCreateCmd.Flags().StringVar(&scannerKind, "kind", "", "scanner kind (required)")
	scannerCreateCmd.Flags().StringVar(&scannerHost, "host", "", "scanner host")
	scannerCreateCmd.Flags().IntVar(&scannerPort, "port", 0, "scanner port")
	scannerCreateCmd.Flags().StringVar(&scannerUnixSocket, "unix-socket", "", "unix socket path (alternative to host:port)")
	scannerCreateCmd.Flags().StringVar(&scannerCACert, "ca-cert", "", "CA certificate (PEM)")
	scannerCreateCmd.Flags().StringVar(&scannerClientCert, "client-cert", "", "client certificate (PEM)")
	scannerCreateCmd.Flags().StringVar(&scannerClientKey, "client-key", "", "client private key (PEM)")

	scannerCmd.AddCommand(scannerListCmd, scannerCreateCmd)
}

// withStore opens the configured database, runs fn, and always closes it.
func withStore(fn func(ctx context.Context, db store.DB) error) error {
	ctx := context.Background()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := store.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return fn(ctx, db)
}
