package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/jursonmo/routeref"
)

// dryRunBackend does not touch the OS, it only records the calls the
// manager makes.
type dryRunBackend struct {
	ops []string
}

func (b *dryRunBackend) RegisterRoute(ctx context.Context, e routeref.Entry) error {
	b.ops = append(b.ops, "ADD "+e.String())
	return nil
}

func (b *dryRunBackend) UnregisterRoute(ctx context.Context, e routeref.Entry) error {
	b.ops = append(b.ops, "DEL "+e.String())
	return nil
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend := &dryRunBackend{}
	ctrl := routeref.NewController(routeref.New(backend, routeref.WithLogger(logger)), &routeref.MemoryStore{}, routeref.WithLogger(logger))

	shared := routeref.MustParseEntry("tun0", "10.0.0.0/24", "")

	// Two peers reachable through the same tunnel both need the subnet route.
	if _, err := ctrl.Reconcile(ctx, "peer-a", []routeref.Entry{
		shared,
		routeref.MustParseEntry("tun0", "192.168.10.0/24", "10.0.0.1"),
	}); err != nil {
		log.Fatalf("reconcile peer-a: %v", err)
	}
	if _, err := ctrl.Reconcile(ctx, "peer-b", []routeref.Entry{
		shared,
		routeref.MustParseEntry("tun0", "192.168.20.0/24", "10.0.0.2"),
	}); err != nil {
		log.Fatalf("reconcile peer-b: %v", err)
	}

	// peer-a goes away: its own route is removed, the shared one stays.
	if _, err := ctrl.Release(ctx, "peer-a"); err != nil {
		log.Fatalf("release peer-a: %v", err)
	}
	fmt.Printf("shared route still installed: %v\n", ctrl.HasRoute(shared))

	// Everything left is removed on close.
	ctrl.Close()

	fmt.Println("Backend operations:")
	fmt.Println("  " + strings.Join(backend.ops, "\n  "))
}
