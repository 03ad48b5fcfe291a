// Command smog is the command-line front end for the smog language: a
// REPL, a source/bytecode runner, a standalone compiler, and a
// disassembler, layered over pkg/compiler, pkg/vm, and pkg/bytecode.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/kristofer/smogvm/pkg/value"
	"github.com/kristofer/smogvm/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("smog version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: no file specified")
			printUsage()
			os.Exit(64)
		}
		runFile(os.Args[2])
	case "compile":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: no file specified")
			fmt.Fprintln(os.Stderr, "\nUsage: smog compile <input.smog> [output.sg]")
			os.Exit(64)
		}
		outputFile := ""
		if len(os.Args) >= 4 {
			outputFile = os.Args[3]
		}
		compileFile(os.Args[2], outputFile)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: no file specified")
			fmt.Fprintln(os.Stderr, "\nUsage: smog disassemble <file.sg>")
			os.Exit(64)
		}
		disassembleFile(os.Args[2])
	default:
		if len(os.Args) > 2 {
			fmt.Fprintln(os.Stderr, "Usage: smog [path]")
			os.Exit(64)
		}
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("smog - a small dynamically-typed scripting language")
	fmt.Println("\nUsage:")
	fmt.Println("  smog                       Start interactive REPL")
	fmt.Println("  smog [file]                Run a .smog or .sg file")
	fmt.Println("  smog run [file]            Run a .smog or .sg file")
	fmt.Println("  smog compile <in> [out]    Compile .smog to .sg bytecode")
	fmt.Println("  smog disassemble <file>    Disassemble .sg bytecode file")
	fmt.Println("  smog repl                  Start interactive REPL")
	fmt.Println("  smog version               Show version")
	fmt.Println("  smog help                  Show this help")
	fmt.Println("\nEnvironment:")
	fmt.Println("  SMOG_TRACE=1               Trace every executed instruction")
	fmt.Println("  SMOG_STRESS_GC=1           Collect before every allocation")
	fmt.Println("  SMOG_LOG_GC=1              Log collector activity to stderr")
}

// newVM builds a VM with options read from the environment, the same
// three knobs the reference interpreter exposed as compile-time flags
// (DEBUG_TRACE_EXECUTION, DEBUG_STRESS_GC, DEBUG_LOG_GC).
func newVM() *vm.VM {
	var opts []vm.Option
	if envFlag("SMOG_TRACE") {
		opts = append(opts, vm.WithDebugger(vm.NewDebugger(os.Stderr)))
	}
	if envFlag("SMOG_STRESS_GC") {
		opts = append(opts, vm.WithStressGC(true))
	}
	if envFlag("SMOG_LOG_GC") {
		opts = append(opts, vm.WithGCLogger(func(line string) {
			fmt.Fprintln(os.Stderr, line)
		}))
	}
	v := vm.New(opts...)
	registerNatives(v)
	return v
}

func envFlag(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// registerNatives installs the handful of host functions smog scripts can
// call directly. clock() is the only one the reference implementation's
// original source exposed.
func registerNatives(v *vm.VM) {
	v.DefineNative("clock", func(args []value.Value) (value.Value, error) {
		return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
	})
}

func runFile(filename string) {
	if filepath.Ext(filename) == ".sg" {
		runBytecodeFile(filename)
		return
	}
	runSourceFile(filename)
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(74)
	}

	v := newVM()
	switch v.Interpret(string(data)) {
	case vm.CompileError:
		os.Exit(65)
	case vm.RuntimeErrorResult:
		os.Exit(70)
	}
}

func runBytecodeFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(74)
	}
	defer file.Close()

	v := newVM()
	fn, err := bytecode.ReadFunction(file, v.Heap())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(74)
	}

	switch v.InterpretFunction(fn) {
	case vm.RuntimeErrorResult:
		os.Exit(70)
	}
}

func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if filepath.Ext(inputFile) == ".smog" {
			outputFile = inputFile[:len(inputFile)-len(".smog")] + ".sg"
		} else {
			outputFile = inputFile + ".sg"
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(74)
	}

	v := newVM()
	fn, ok := v.CompileOnly(string(data))
	if !ok {
		os.Exit(65)
	}

	outFile, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(74)
	}
	defer outFile.Close()

	if err := bytecode.WriteFunction(outFile, fn); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(74)
	}

	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

func disassembleFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(74)
	}
	defer file.Close()

	fn, err := bytecode.ReadFunction(file, gc.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(74)
	}

	name := "<script>"
	if fn.Name != nil {
		name = fn.Name.Chars
	}
	bytecode.Disassemble(os.Stdout, &fn.Chunk, name)
}

// runREPL starts an interactive read-eval-print loop. Each complete line
// is compiled and run against the same persistent VM, so globals declared
// in one line are visible in the next.
func runREPL() {
	fmt.Printf("smog REPL v%s\n", version)
	fmt.Println("Type ':quit' or ':exit' to exit")
	fmt.Println()

	v := newVM()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("smog> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case ":quit", ":exit":
			return
		case "":
			continue
		}

		v.Interpret(line)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}
