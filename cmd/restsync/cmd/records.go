package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/the-dev-tools/restsync/pkg/crudsync"
	"github.com/the-dev-tools/restsync/pkg/expression"
	"github.com/the-dev-tools/restsync/pkg/fuzzyfinder"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

// newSession builds a session for the configured resource without loading it.
func (a *app) newSession(cmd *cobra.Command) (*crudsync.Session, error) {
	kind, err := mrecord.ParseKind(a.v.GetString(keyKind))
	if err != nil {
		return nil, err
	}
	cfg := crudsync.Config{
		BaseURL:          strings.TrimRight(a.v.GetString(keyBaseURL), "/") + "/" + a.v.GetString(keyResource),
		Kind:             kind,
		SimulatedLatency: a.v.GetDuration(keyLatency),
		Token:            a.v.GetString(keyToken),
	}
	stderr := cmd.ErrOrStderr()
	return crudsync.New(cfg, a.logger, crudsync.WithNotifier(func(_ context.Context, msg string) {
		fmt.Fprintln(stderr, msg)
	})), nil
}

// openSession loads the configured resource. The caller closes the session.
func (a *app) openSession(cmd *cobra.Command) (*crudsync.Session, error) {
	ctx := cmd.Context()
	s, err := a.newSession(cmd)
	if err != nil {
		return nil, err
	}
	if err := crudsync.Await(ctx, func(cb crudsync.OnSettled) { s.Start(ctx, cb) }); err != nil {
		s.Close()
		return nil, fmt.Errorf("load %s: %w", s.Topic(), err)
	}
	return s, nil
}

type filterFlags struct {
	query string
	field string
	where string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.query, "filter", "", "keep records fuzzy-matching this text")
	cmd.Flags().StringVar(&f.field, "filter-field", "", "field --filter matches (all text fields when empty)")
	cmd.Flags().StringVar(&f.where, "where", "", `keep records this expression holds for, e.g. 'sequence > 2'`)
}

func (f *filterFlags) active() bool {
	return strings.TrimSpace(f.query) != "" || strings.TrimSpace(f.where) != ""
}

// apply returns the records of c passing both filters, in order.
func (f *filterFlags) apply(c mrecord.Collection) (mrecord.Collection, error) {
	out := fuzzyfinder.FilterRecords(c, f.field, f.query)
	if strings.TrimSpace(f.where) == "" {
		return out, nil
	}
	pred, err := expression.Compile(f.where)
	if err != nil {
		return nil, err
	}
	return pred.Filter(out)
}

func newListCmd(a *app) *cobra.Command {
	var (
		filters filterFlags
		sorted  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the records of the resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			data := s.Data()
			if sorted {
				data = data.SortedBySequence()
			}
			data, err = filters.apply(data)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), data)
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&sorted, "sorted", false, "order by sequence")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		data string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record",
		Example: `  restsync create --set todoText="write docs"
  restsync create --resource speakers --kind speaker --data '{"name":"Ada"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			for k, v := range fields {
				payload[k] = v
			}

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := crudsync.Await(ctx, func(cb crudsync.OnSettled) { s.Create(ctx, payload, cb) }); err != nil {
				return err
			}
			// new records are prepended
			return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), s.Data()[:1])
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "record fields as a JSON object")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value, value parsed as JSON when possible (repeatable)")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		sets   []string
		unsets []string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Merge fields into a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := idwrap.Parse(args[0])
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			p := patch.NewRecordPatch(id)
			for k, v := range fields {
				p = p.With(k, v)
			}
			for _, k := range unsets {
				p = p.Without(k)
			}
			if !p.HasChanges() {
				return errors.New("nothing to update: use --set or --unset")
			}

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := crudsync.Await(ctx, func(cb crudsync.OnSettled) { s.Update(ctx, p, cb) }); err != nil {
				return err
			}
			rec, _ := s.Data().Find(id)
			return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), mrecord.Collection{rec})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	cmd.Flags().StringArrayVar(&unsets, "unset", nil, "field to set to null (repeatable)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete records in one request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]idwrap.IDWrap, 0, len(args))
			for _, arg := range args {
				ids = append(ids, idwrap.Parse(arg))
			}

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := crudsync.Await(ctx, func(cb crudsync.OnSettled) { s.Delete(ctx, ids, cb) }); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), s.Data())
		},
	}
}

// parseAssignments turns field=value pairs into fields. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, raw, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want field=value", pair)
		}
		if k == mrecord.FieldID {
			return nil, errors.New("id cannot be assigned")
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[k] = v
	}
	return out, nil
}
