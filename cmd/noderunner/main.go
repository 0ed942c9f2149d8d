// noderunner loads a node package from a directory, runs one node with the
// given inputs, and prints the package's node definitions and, unless -list
// is set, the run result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/streaming"
)

func main() {
	var packageDir string
	var nodeName string
	var inputsJSON string
	var listOnly bool
	var cacheDir string
	var verbose bool

	flag.StringVar(&packageDir, "package", "", "Path to the package directory (manifest.toml|json + node.wasm)")
	flag.StringVar(&nodeName, "node", "", "Node name to run (defaults to the package's first node)")
	flag.StringVar(&inputsJSON, "inputs", "{}", "JSON object of input pin values")
	flag.BoolVar(&listOnly, "list", false, "Only print node definitions, not the run result (the node is still run once to fetch them)")
	flag.StringVar(&cacheDir, "cache-dir", "", "Optional on-disk payload cache directory")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if packageDir == "" {
		fmt.Fprintln(os.Stderr, "Package directory is required (-package)")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(packageDir, nodeName, inputsJSON, listOnly, cacheDir, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(packageDir, nodeName, inputsJSON string, listOnly bool, cacheDir string, logger *zap.Logger) error {
	ctx := context.Background()

	var inputs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
		return fmt.Errorf("parse -inputs: %w", err)
	}

	loaded, err := noderuntime.NewLoader().Load(packageDir)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}

	cfg := noderuntime.DefaultConfig().WithModuleCacheDiskDir(cacheDir)
	engine, err := noderuntime.NewEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer engine.Close(ctx)

	orchestrator := noderuntime.NewOrchestrator(engine, logger)
	streams := streaming.NewManager(cfg.StreamBufferSize, logger)

	if nodeName == "" && len(loaded.Package.Manifest.Nodes) > 0 {
		nodeName = loaded.Package.Manifest.Nodes[0].Name
	}

	input := noderuntime.ExecutionInput{
		Inputs:   inputs,
		NodeID:   nodeName,
		NodeName: nodeName,
		LogLevel: 1, // info
	}
	result, err := orchestrator.RunNode(ctx, loaded.Package, noderuntime.RunRequest{
		WasmBytes: loaded.WasmBytes,
		Security:  &loaded.Security,
		Backends:  hostfunctions.Backends{Stream: streams},
		Input:     input,
	})

	// Node definitions were fetched and cached during RunNode; print them
	// regardless of how the run itself went.
	defs, defsErr := json.MarshalIndent(loaded.Package.NodeDefs, "", "  ")
	if defsErr == nil {
		fmt.Printf("Nodes:\n%s\n", defs)
	}
	if err != nil {
		return fmt.Errorf("run node %q: %w", nodeName, err)
	}
	if listOnly {
		return nil
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Printf("Result:\n%s\n", out)
	return nil
}
