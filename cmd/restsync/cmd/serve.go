package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/the-dev-tools/restsync/internal/mockserver"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	keyAddr       = "addr"
	keyStore      = "store"
	keyDB         = "db"
	keySeed       = "seed"
	keyAuthSecret = "auth_secret"

	shutdownTimeout = 5 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a json-server compatible backend",
		Long: `Serve every resource of the store under /{resource}. With --seed the store is
filled from a json-server db file (an object of resource name to record list).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd)
		},
	}
	cmd.Flags().String(keyAddr, ":3000", "listen address")
	cmd.Flags().String(keyStore, "memory", "store backend: memory or sqlite")
	cmd.Flags().String(keyDB, "", "sqlite database file (in-memory when empty)")
	cmd.Flags().String(keySeed, "", "json or yaml file to seed the store from")
	cmd.Flags().String("auth-secret", "", "require bearer tokens signed with this secret")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()

	store, err := openStore(ctx, a.localString(cmd, keyStore, keyStore), a.localString(cmd, keyDB, keyDB))
	if err != nil {
		return err
	}
	defer store.Close()

	if seed := a.localString(cmd, keySeed, keySeed); seed != "" {
		n, err := seedStore(ctx, store, seed)
		if err != nil {
			return err
		}
		a.logger.Info("seeded store", "file", seed, "records", n)
	}

	var opts []mockserver.Option
	if secret := a.localString(cmd, "auth-secret", keyAuthSecret); secret != "" {
		opts = append(opts, mockserver.WithAuth([]byte(secret)))
	}
	addr := a.localString(cmd, keyAddr, keyAddr)
	srv := mockserver.New(store, a.logger, opts...).HTTPServer(addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down", "addr", addr)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, kind, path string) (mockserver.Store, error) {
	switch strings.ToLower(kind) {
	case "memory", "":
		return mockserver.NewMemoryStore(), nil
	case "sqlite":
		return mockserver.NewSQLiteStore(ctx, path)
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

// seedStore loads a json-server db file into store and returns the number of
// records inserted.
func seedStore(ctx context.Context, store mockserver.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return 0, fmt.Errorf("parse seed %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return 0, fmt.Errorf("parse seed %s: %w", path, err)
		}
	}

	var db map[string]mrecord.Collection
	if err := json.Unmarshal(data, &db); err != nil {
		return 0, fmt.Errorf("parse seed %s: %w", path, err)
	}
	resources := make([]string, 0, len(db))
	for name := range db {
		resources = append(resources, name)
	}
	sort.Strings(resources)

	total := 0
	for _, name := range resources {
		if err := mockserver.Seed(ctx, store, name, db[name]); err != nil {
			return total, fmt.Errorf("seed %s: %w", name, err)
		}
		total += len(db[name])
	}
	return total, nil
}
