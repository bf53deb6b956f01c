package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/storage"
)

// graphConfig sizes a generated graph.
type graphConfig struct {
	OutputPath string
	Nodes      int
	Edges      int
	Seed       int64
}

func configFor(name string) (graphConfig, bool) {
	switch name {
	case "default":
		return graphConfig{OutputPath: "testdata/graph_default.db", Nodes: 200, Edges: 400, Seed: 1}, true
	case "medium":
		return graphConfig{OutputPath: "testdata/graph_medium.db", Nodes: 2000, Edges: 5000, Seed: 1}, true
	case "large":
		return graphConfig{OutputPath: "testdata/graph_large.db", Nodes: 20000, Edges: 60000, Seed: 1}, true
	}
	return graphConfig{}, false
}

// buildGraph writes an "edges" (src, dst) collection and a "nodes" (id)
// collection. Edges are sampled with replacement, so some carry
// multiplicity above one.
func buildGraph(cfg graphConfig) (*storage.BadgerStore, error) {
	store, err := storage.NewBadgerStore(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	edges := collection.NewBuilder(cfg.Edges)
	for i := 0; i < cfg.Edges; i++ {
		src := int64(rng.Intn(cfg.Nodes))
		dst := int64(rng.Intn(cfg.Nodes))
		edges.Add(fixpoint.Row{src, dst}, 1)
	}
	nodes := collection.NewBuilder(cfg.Nodes)
	for i := 0; i < cfg.Nodes; i++ {
		nodes.Add(fixpoint.Row{int64(i)}, 1)
	}

	if err := store.Put("edges", 2, edges.Build()); err != nil {
		store.Close()
		return nil, fmt.Errorf("store edges: %w", err)
	}
	if err := store.Put("nodes", 1, nodes.Build()); err != nil {
		store.Close()
		return nil, fmt.Errorf("store nodes: %w", err)
	}
	return store, nil
}

func main() {
	configType := flag.String("config", "default", "Config type: default, medium, or large")
	output := flag.String("out", "", "override the output path")
	flag.Parse()

	config, ok := configFor(*configType)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown config type: %s (use 'default', 'medium', or 'large')\n", *configType)
		os.Exit(1)
	}
	if *output != "" {
		config.OutputPath = *output
	}

	fmt.Printf("Building test database: %s\n", config.OutputPath)
	fmt.Printf("  Nodes: %d\n", config.Nodes)
	fmt.Printf("  Edges: %d\n", config.Edges)
	fmt.Println()

	store, err := buildGraph(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	names, err := store.Names()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list collections: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Collections: %v\n", names)
	fmt.Println("\nDone! Use this database with:")
	fmt.Printf("   fixpoint -db %s closure.edn\n", config.OutputPath)
}
