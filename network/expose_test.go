package network_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
	"github.com/VanDung-dev/HeavyData-Engine/network"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
)

var (
	_ heavydata.DistributedRegistry = (*network.Publisher)(nil)
	_ heavydata.Resolver            = (*network.Fetcher)(nil)
)

func TestExposeAndMaterialize(t *testing.T) {
	pub := network.NewPublisher(network.DefaultPublisherConfig())
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pub.Stop()

	cfg := heavydata.DefaultConfig()
	cfg.TempDir = t.TempDir()
	h := heavydata.New(filepath.Join(t.TempDir(), "grains.bolt"),
		heavydata.WithGroup("test"), heavydata.WithConfig(cfg), heavydata.WithRegistry(pub))
	grains, err := h.Open(heavydata.ModeCreate, heavydata.WithSchemas(schema.SampleGrain, schema.SampleDocument))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := grains.Resize(2, false); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	g1, err := grains.Index(1)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := g1.Set("identity.material", "quartz"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ref, err := h.Expose()
	if err != nil {
		t.Fatalf("Expose failed: %v", err)
	}

	local, err := heavydata.FromReference(context.Background(), ref, network.NewFetcher(network.DefaultFetcherConfig()),
		heavydata.WithGroup("test"), heavydata.WithConfig(cfg))
	if err != nil {
		t.Fatalf("FromReference failed: %v", err)
	}
	if !local.Temporary() || local.IsOpen() {
		t.Errorf("materialized handle: temporary=%v open=%v", local.Temporary(), local.IsOpen())
	}

	copied, err := local.Open(heavydata.ModeReadOnly)
	if err != nil {
		t.Fatalf("Open copy failed: %v", err)
	}
	if n, err := copied.Len(); err != nil || n != 2 {
		t.Errorf("Len = %d, %v; want 2", n, err)
	}
	c1, err := copied.Index(1)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if got, err := c1.GetString("identity.material"); err != nil || got != "quartz" {
		t.Errorf("material = %q, %v; want quartz", got, err)
	}
	if err := local.Close(false); err != nil {
		t.Fatalf("Close copy failed: %v", err)
	}
	if err := local.Cleanup(); err != nil {
		t.Errorf("Cleanup failed: %v", err)
	}

	if err := h.Close(false); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if pub.Objects() != 0 {
		t.Errorf("Close left %d published objects", pub.Objects())
	}
}
