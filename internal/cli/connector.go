package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"chargeamps/internal/agent"
	"chargeamps/internal/coordinator"
)

func newConnectorCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Change connector settings",
		Long:  "One-shot connector commands. Each command sends a single write to the eAPI.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set-mode <charge-point-id> <connector-id> <mode>",
			Short: "Set the connector mode, e.g. Charging or Off",
			Args:  cobra.ExactArgs(3),
			RunE: a.connectorRunE(func(ctx context.Context, g *coordinator.CommandGateway, cp string, conn int, args []string) (string, error) {
				return fmt.Sprintf("mode set to %s", args[0]), g.SetMode(ctx, cp, conn, args[0])
			}),
		},
		&cobra.Command{
			Use:   "set-current <charge-point-id> <connector-id> <amps>",
			Short: "Set the connector current limit in amperes",
			Args:  cobra.ExactArgs(3),
			RunE: a.connectorRunE(func(ctx context.Context, g *coordinator.CommandGateway, cp string, conn int, args []string) (string, error) {
				amps, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return "", fmt.Errorf("invalid current %q: %w", args[0], err)
				}
				return fmt.Sprintf("max current set to %s A", args[0]), g.SetMaxCurrent(ctx, cp, conn, amps)
			}),
		},
		&cobra.Command{
			Use:   "enable <charge-point-id> <connector-id>",
			Short: "Enable charging on the connector",
			Args:  cobra.ExactArgs(2),
			RunE: a.connectorRunE(func(ctx context.Context, g *coordinator.CommandGateway, cp string, conn int, _ []string) (string, error) {
				return "charging enabled", g.Enable(ctx, cp, conn)
			}),
		},
		&cobra.Command{
			Use:   "disable <charge-point-id> <connector-id>",
			Short: "Switch the connector off",
			Args:  cobra.ExactArgs(2),
			RunE: a.connectorRunE(func(ctx context.Context, g *coordinator.CommandGateway, cp string, conn int, _ []string) (string, error) {
				return "charging disabled", g.Disable(ctx, cp, conn)
			}),
		},
	)
	return cmd
}

type connectorAction func(ctx context.Context, g *coordinator.CommandGateway, chargePointID string, connectorID int, rest []string) (string, error)

// connectorRunE parses the charge point and connector arguments and runs fn
// with the remaining ones. No snapshot is kept, so nothing is patched.
func (a *app) connectorRunE(fn connectorAction) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		chargePointID := args[0]
		connectorID, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid connector id %q", args[1])
		}
		if err := a.cfg.RequireCredentials(); err != nil {
			return err
		}

		gateway := coordinator.NewCommandGateway(agent.NewClient(a.cfg), nil)
		msg, err := fn(cmd.Context(), gateway, chargePointID, connectorID, args[2:])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connector %d on %s: %s\n", connectorID, chargePointID, msg)
		return nil
	}
}
