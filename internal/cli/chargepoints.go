package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"chargeamps/internal/agent"
	"chargeamps/internal/coordinator"
	"chargeamps/internal/store"
	"chargeamps/pkg/output"
)

// snapshotView renders a snapshot as one row per connector, ordered by
// charge point id and connector id.
type snapshotView coordinator.Snapshot

func (s snapshotView) RenderText(w io.Writer) error {
	if len(s) == 0 {
		_, err := fmt.Fprintln(w, "No charge points found.")
		return err
	}

	ids := coordinator.Snapshot(s).ChargePointIDs()
	sort.Strings(ids)

	t := output.NewTable(w, "charge point", "name", "connector", "type", "mode", "max current")
	for _, id := range ids {
		cp := s[id]
		if len(cp.Connectors) == 0 {
			t.Row(cp.ID, cp.Name, "-", "-", "-", "-")
			continue
		}
		for _, connID := range sortedConnectorIDs(cp) {
			conn := cp.Connectors[connID]
			t.Row(cp.ID, cp.Name, conn.ID, dash(conn.Type), dash(conn.Mode()), formatAmps(conn))
		}
	}
	return t.Flush()
}

// chargePointView renders one charge point with its connectors
type chargePointView coordinator.ChargePoint

func (c chargePointView) RenderText(w io.Writer) error {
	cp := coordinator.ChargePoint(c)
	fmt.Fprintf(w, "ID:              %s\n", cp.ID)
	fmt.Fprintf(w, "Name:            %s\n", dash(cp.Name))
	fmt.Fprintf(w, "Type:            %s\n", dash(cp.Type))
	fmt.Fprintf(w, "Firmware:        %s\n", dash(cp.FirmwareVersion))
	fmt.Fprintf(w, "Hardware:        %s\n", dash(cp.HardwareVersion))
	fmt.Fprintf(w, "OCPP:            %s\n", dash(cp.OCPPVersion))
	fmt.Fprintf(w, "Load balanced:   %t\n", cp.IsLoadbalanced)
	fmt.Fprintf(w, "Owner read-only: %t\n", cp.OwnerReadOnly)

	if len(cp.Connectors) == 0 {
		_, err := fmt.Fprintln(w, "\nNo connectors.")
		return err
	}

	fmt.Fprintln(w)
	t := output.NewTable(w, "connector", "type", "mode", "max current", "charging")
	for _, connID := range sortedConnectorIDs(cp) {
		conn := cp.Connectors[connID]
		t.Row(conn.ID, dash(conn.Type), dash(conn.Mode()), formatAmps(conn), conn.Charging())
	}
	return t.Flush()
}

func sortedConnectorIDs(cp coordinator.ChargePoint) []int {
	ids := make([]int, 0, len(cp.Connectors))
	for id := range cp.Connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func formatAmps(conn coordinator.Connector) string {
	amps, ok := conn.MaxCurrent()
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(amps, 'f', -1, 64) + " A"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newChargePointsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chargepoints",
		Aliases: []string{"cp"},
		Short:   "Inspect the charge points owned by the account",
	}
	cmd.AddCommand(newChargePointsListCommand(a), newChargePointsGetCommand(a))
	return cmd
}

func newChargePointsListCommand(a *app) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch and print the normalized snapshot",
		Long: `Runs one refresh cycle against the eAPI and prints the resulting snapshot.
With --cached the snapshot last mirrored to Redis by a running agent is printed
instead and no eAPI request is made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.GetFormatFromCmd(cmd)
			if err != nil {
				return err
			}

			var snap coordinator.Snapshot
			if cached {
				rs := store.NewRedisStore(a.cfg.Redis)
				defer rs.Close()
				snap, err = rs.LoadSnapshot(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				if err := a.cfg.RequireCredentials(); err != nil {
					return err
				}
				coord := coordinator.New(agent.NewClient(a.cfg), coordinator.Options{})
				if err := coord.Refresh(cmd.Context()); err != nil {
					return fmt.Errorf("failed to fetch charge points: %w", err)
				}
				snap = coord.Snapshot()
			}

			formatter := output.New(format)
			formatter.SetWriter(cmd.OutOrStdout())
			return formatter.Output(snapshotView(snap))
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "read the snapshot mirrored in Redis")
	output.AddFormatFlag(cmd)
	return cmd
}

func newChargePointsGetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <charge-point-id>",
		Short: "Fetch one charge point",
		Long:  "Fetches a single charge point. JSON output is the document as returned by the eAPI.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.GetFormatFromCmd(cmd)
			if err != nil {
				return err
			}
			if err := a.cfg.RequireCredentials(); err != nil {
				return err
			}

			doc, err := agent.NewClient(a.cfg).GetChargePoint(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get charge point %s: %w", args[0], err)
			}

			formatter := output.New(format)
			formatter.SetWriter(cmd.OutOrStdout())
			if formatter.IsJSON() {
				return formatter.Output(doc)
			}

			// a single document yields at most one charge point
			snap, warnings := coordinator.Normalize([]any{doc})
			if len(snap) == 0 {
				if len(warnings) > 0 {
					return warnings[0]
				}
				return fmt.Errorf("charge point %s returned no usable data", args[0])
			}
			var cp coordinator.ChargePoint
			for _, c := range snap {
				cp = c
			}
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w.Error())
			}
			return formatter.Output(chargePointView(cp))
		},
	}

	output.AddFormatFlag(cmd)
	return cmd
}
