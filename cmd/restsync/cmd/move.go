package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/reorder"
)

func newMoveCmd(a *app) *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "move <id> <target-id>",
		Short: "Drag a record onto another and persist the new order",
		Long: `move drops <id> onto <target-id> in the list ordered by sequence. With
--filter or --where only the matching records are reordered; every other
record keeps its sequence. The changed sequences are saved after the settle
delay.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dragged, target := idwrap.Parse(args[0]), idwrap.Parse(args[1])

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			all := s.Data().SortedBySequence()
			visible, full := all, mrecord.Collection(nil)
			if filters.active() {
				if visible, err = filters.apply(all); err != nil {
					return err
				}
				full = all
			}

			settled := make(chan error, 1)
			sink := s.ReorderSink(ctx, func(err error) { settled <- err })
			coord := reorder.New(visible, full, sink, reorder.Options{
				SettleDelay: a.v.GetDuration(keySettleDelay),
				Logger:      a.logger,
			})
			defer coord.Close()

			if err := coord.DragStart(dragged, reorder.Point{}, reorder.Rect{}); err != nil {
				return fmt.Errorf("record %s: %w", dragged, err)
			}
			coord.DragEnter(target)
			pending, err := coord.Drop(target, reorder.Point{})
			if err != nil {
				if errors.Is(err, reorder.ErrTargetNotFound) {
					return fmt.Errorf("record %s: %w", target, err)
				}
				return err
			}
			coord.DragEnd()

			if pending {
				select {
				case err := <-settled:
					if err != nil {
						return err
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			out, err := filters.apply(s.Data().SortedBySequence())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), out)
		},
	}
	filters.register(cmd)
	return cmd
}
