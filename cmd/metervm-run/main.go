// Command metervm-run is a minimal example driver: it loads a .wasm
// file, invokes one zero-argument export under a caller-supplied gas
// limit, and reports gas spent. It is an external collaborator against
// the public metervm API, not part of the engine itself - the same role
// the reference's own example/run/src/main.rs plays against its Vm.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/eth2030/metervm"
)

func main() {
	wasmPath := flag.String("wasm", "", "path to a .wasm module")
	entry := flag.String("entry", "invoke", "entrypoint name (without the __vm_ prefix)")
	gasLimit := flag.Uint64("gas", 1_000_000, "gas limit for this invocation")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := log.LevelInfo
	if *verbose {
		level = log.LevelDebug
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))

	if *wasmPath == "" {
		log.Crit("missing -wasm flag")
	}
	code, err := os.ReadFile(*wasmPath)
	if err != nil {
		log.Crit("reading wasm file", "err", err)
	}

	vm := metervm.New()
	defer vm.Close(context.Background())

	meter := metervm.NewGasMeter(*gasLimit)
	err = vm.Execute(context.Background(), code, *entry, meter)
	if err != nil {
		log.Error("execution failed", "entry", *entry, "spent", meter.Spent(), "err", err)
		os.Exit(1)
	}
	log.Info("execution succeeded", "entry", *entry, "spent", meter.Spent(), "left", meter.Left())
}
