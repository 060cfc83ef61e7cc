package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tilegen/internal/codegen"
	"tilegen/internal/diag"
	"tilegen/internal/kernels"
	"tilegen/internal/layout"
	"tilegen/internal/tir"
	"tilegen/internal/validate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "compile":
		return runCompile(args[1:])
	case "lint":
		return runLint(args[1:])
	case "list":
		return runList(args[1:])
	default:
		printGlobalUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(os.Stderr, "tilegen kernel compiler\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  tilegen <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  compile    Lower a built-in kernel to TIR or LLVM IR\n")
	fmt.Fprintf(os.Stderr, "  lint       Run layout and module validation only\n")
	fmt.Fprintf(os.Stderr, "  list       Show the built-in kernels\n")
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	kernel := fs.String("kernel", "", "built-in kernel to compile (see the list command)")
	emit := fs.String("emit", "llvm", "output format (tir|llvm)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	sm := fs.Int("sm", 80, "compute capability of the target device")
	warps := fs.Int("warps", 4, "warps launched per program")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kernel == "" {
		fs.Usage()
		return fmt.Errorf("compile requires -kernel")
	}

	mod, info, err := buildKernel(*kernel, *warps, *diagFormat)
	if err != nil {
		return err
	}

	switch *emit {
	case "tir":
		return withOutputWriter(*output, func(w io.Writer) error {
			tir.Dump(mod, w)
			return nil
		})
	case "llvm":
		out, err := codegen.Generate(mod, info, codegen.Target{SM: *sm, NumWarps: *warps})
		if err != nil {
			return err
		}
		return withOutputWriter(*output, func(w io.Writer) error {
			_, err := out.WriteTo(w)
			return err
		})
	default:
		return fmt.Errorf("unknown emit format: %s", *emit)
	}
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	kernel := fs.String("kernel", "", "kernel to check (all of them when omitted)")
	warps := fs.Int("warps", 4, "warps launched per program")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *kernel != "" {
		_, _, err := buildKernel(*kernel, *warps, *diagFormat)
		return err
	}
	for _, prog := range kernels.Catalog() {
		if _, _, err := buildKernel(prog.Name, *warps, *diagFormat); err != nil {
			return err
		}
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	output := fs.String("o", "", "output file path (stdout when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withOutputWriter(*output, func(w io.Writer) error {
		for _, prog := range kernels.Catalog() {
			fmt.Fprintf(w, "%-18s %s\n", prog.Name, prog.Brief)
		}
		return nil
	})
}

// buildKernel constructs one catalog program at the requested launch width
// and validates it before handing it to any consumer.
func buildKernel(name string, warps int, diagFormat string) (*tir.Module, *layout.Info, error) {
	if warps <= 0 {
		return nil, nil, fmt.Errorf("need at least one warp (got %d)", warps)
	}
	prog, ok := kernels.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown kernel %q (available: %s)", name, strings.Join(kernels.Names(), ", "))
	}
	mod, info, err := prog.Build(warps * warpSize)
	if err != nil {
		return nil, nil, err
	}
	reporter := diag.NewReporter(os.Stderr, diagFormat)
	if err := validate.CheckModule(mod, info, reporter); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return mod, info, nil
}

const warpSize = 32

func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
