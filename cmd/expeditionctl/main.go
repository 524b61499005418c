// Command expeditionctl runs one-off administrative jobs against the pipeline
// database without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ExpeditionFlow/internal/auth"
	"ExpeditionFlow/internal/bootstrap"
	"ExpeditionFlow/internal/documents"
	"ExpeditionFlow/internal/orchestration"
	pkg "ExpeditionFlow/pkg/routes"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:           "expeditionctl",
	Short:         "Administrative jobs for ExpeditionFlow",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		bootstrap.Loadenv()
	},
}

var renameSignedCmd = &cobra.Command{
	Use:   "rename-signed",
	Short: "Rename signed receipts to the canonical naming scheme",
	RunE: func(cmd *cobra.Command, args []string) error {
		shipmentID, _ := cmd.Flags().GetString("shipment")
		return withApp(cmd.Context(), func(ctx context.Context, svc *orchestration.Service) error {
			report, err := svc.RenameSignedFiles(ctx, orchestration.RenamePayload{ShipmentID: shipmentID})
			if err != nil {
				return err
			}
			fmt.Printf("processed %d, renamed %d, skipped %d, failed %d\n",
				report.Processed, report.Renamed, report.Skipped, report.Failed)
			for _, e := range report.Errors {
				fmt.Println("  " + e)
			}
			return nil
		})
	},
}

var syncStaticCmd = &cobra.Command{
	Use:   "sync-static",
	Short: "Stamp the uploaded static documents onto every recipient",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, svc *documents.StaticService) error {
			res, err := svc.SyncStatic(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("synced %v onto %d recipients\n", res.Kinds, res.Recipients)
			return nil
		})
	},
}

var createOperatorCmd = &cobra.Command{
	Use:   "create-operator <email> <name>",
	Short: "Create a back-office operator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("OPERATOR_PASSWORD")
		}
		req := auth.CreateOperatorRequest{Email: args[0], Name: args[1], Role: role, Password: password}
		if role != auth.RoleAdmin && role != auth.RoleOperator {
			return fmt.Errorf("role must be %s or %s", auth.RoleAdmin, auth.RoleOperator)
		}
		if len(password) < 8 {
			return fmt.Errorf("password must have at least 8 characters (--password or OPERATOR_PASSWORD)")
		}
		return withApp(cmd.Context(), func(ctx context.Context, svc *auth.OperatorService) error {
			op, err := svc.CreateOperator(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("created %s %s (%s)\n", op.Role, op.Email, op.ID.Hex())
			return nil
		})
	},
}

// withApp starts the core dependency graph, hands the requested service to run
// and stops the graph again.
func withApp[T any](parent context.Context, run func(ctx context.Context, svc T) error) error {
	var svc T
	app := fx.New(
		fx.NopLogger,
		pkg.CoreModules,
		fx.Populate(&svc),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx, cancelRun := context.WithTimeout(parent, timeout)
	defer cancelRun()
	return run(ctx, svc)
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 6*time.Hour, "maximum run time of the job")
	renameSignedCmd.Flags().String("shipment", "", "only rename files of this shipment")
	createOperatorCmd.Flags().String("role", auth.RoleOperator, "admin or operator")
	createOperatorCmd.Flags().String("password", "", "initial password")
	rootCmd.AddCommand(renameSignedCmd, syncStaticCmd, createOperatorCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
