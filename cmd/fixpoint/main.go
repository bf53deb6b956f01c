package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wbrown/janus-fixpoint/fixpoint/annotations"
	"github.com/wbrown/janus-fixpoint/fixpoint/executor"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
	"github.com/wbrown/janus-fixpoint/fixpoint/storage"
)

func main() {
	var planPath string
	var sourcesPath string
	var dbPath string
	var configPath string
	var explain bool
	var importOnly bool
	var verbose bool
	var help bool
	var iterationCap int
	var workers int
	var timeout time.Duration

	flag.StringVar(&planPath, "plan", "", "plan file (EDN)")
	flag.StringVar(&sourcesPath, "sources", "", "source collections file (EDN map of name to rows)")
	flag.StringVar(&dbPath, "db", "", "badger database holding source collections")
	flag.StringVar(&configPath, "config", "", "engine options file (YAML)")
	flag.BoolVar(&explain, "explain", false, "print the compiled plan and exit")
	flag.BoolVar(&importOnly, "import", false, "store the -sources collections into -db and exit")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show execution annotations)")
	flag.BoolVar(&help, "h", false, "show help")
	flag.IntVar(&iterationCap, "iteration-cap", 0, "override the iteration cap of recursive groups")
	flag.IntVar(&workers, "workers", -1, "override the worker count (0 = NumCPU, 1 = sequential)")
	flag.DurationVar(&timeout, "timeout", 0, "abort execution after this duration")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [plan_file]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Evaluates mutually recursive query plans to a fixpoint.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -sources edges.edn closure.edn           # Run with in-memory sources\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -explain closure.edn                     # Show the compiled plan\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -import -sources edges.edn -db graph.db  # Load sources into a database\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -db graph.db -verbose closure.edn        # Run against a database\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	if planPath == "" && flag.NArg() > 0 {
		planPath = flag.Arg(0)
	}

	if importOnly {
		if sourcesPath == "" || dbPath == "" {
			log.Fatalf("-import needs both -sources and -db")
		}
		importSources(sourcesPath, dbPath)
		return
	}

	if planPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	opts := executor.DefaultOptions()
	if configPath != "" {
		var err error
		if opts, err = executor.LoadOptions(configPath); err != nil {
			log.Fatalf("Failed to load options: %v", err)
		}
	}
	if iterationCap > 0 {
		opts.IterationCap = iterationCap
	}
	if workers >= 0 {
		opts.MaxWorkers = workers
		opts.EnableParallel = workers != 1
	}

	text, err := os.ReadFile(planPath)
	if err != nil {
		log.Fatalf("Failed to read plan: %v", err)
	}

	engine := executor.NewEngine(opts)
	compiled, err := engine.Compile(string(text))
	if err != nil {
		log.Fatalf("Failed to compile plan: %v", err)
	}
	if explain {
		fmt.Print(plan.Explain(compiled))
		return
	}

	if verbose {
		formatter := annotations.NewOutputFormatter(os.Stderr)
		engine.SetHandler(annotations.Handler(formatter.Handle))
	}

	sources, closeSources := openSources(sourcesPath, dbPath)
	defer closeSources()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := engine.Execute(ctx, compiled, sources)
	if err != nil {
		closeSources()
		log.Fatalf("Execution failed: %v", err)
	}

	fmt.Println(executor.NewTableFormatter().FormatResult(res))
	fmt.Printf("%d rounds in %v\n", res.Rounds, time.Since(start))
}

// openSources returns the sources a plan reads: the -sources file, the -db
// store, or nothing.
func openSources(sourcesPath, dbPath string) (executor.Sources, func()) {
	switch {
	case sourcesPath != "" && dbPath != "":
		log.Fatalf("use either -sources or -db, not both (see -import)")
	case sourcesPath != "":
		return readSources(sourcesPath), func() {}
	case dbPath != "":
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			log.Fatalf("Database does not exist: %s", dbPath)
		}
		store, err := storage.NewBadgerStore(dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		return store, func() { store.Close() }
	}
	return nil, func() {}
}

func readSources(path string) executor.MemorySources {
	text, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read sources: %v", err)
	}
	decoded, err := plan.DecodeSources(string(text))
	if err != nil {
		log.Fatalf("Failed to parse sources: %v", err)
	}
	return executor.MemorySources(decoded)
}

func importSources(sourcesPath, dbPath string) {
	sources := readSources(sourcesPath)
	store, err := storage.NewBadgerStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	for _, name := range sources.Names() {
		c := sources[name]
		updates := c.Updates()
		if len(updates) == 0 {
			fmt.Fprintf(os.Stderr, "Skipping %s: cannot infer the arity of an empty collection\n", name)
			continue
		}
		if err := store.Put(name, len(updates[0].Row), c); err != nil {
			store.Close()
			log.Fatalf("Failed to store %s: %v", name, err)
		}
		fmt.Printf("Stored %s (%d rows)\n", name, c.Len())
	}
}
