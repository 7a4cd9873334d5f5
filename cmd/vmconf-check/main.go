// Command vmconf-check resolves a VM configuration file offline and prints
// either the resolved configuration or every violation found.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/onkernel/vmconf/lib/hotplug"
	"github.com/onkernel/vmconf/lib/validation"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vmconf-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	maxSegments := fs.Uint("max-pci-segments", uint(vmconfig.MaxPCISegments), "PCI segments the target supports")
	arch := fs.String("arch", "", "Guest architecture (x86_64 or aarch64), defaults to the host")
	output := fs.String("o", "json", "Output format for the resolved config: json or yaml")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vmconf-check [flags] file.{json,yaml}\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	if *output != "json" && *output != "yaml" {
		fmt.Fprintf(stderr, "Error: -o %q is not json or yaml\n", *output)
		return exitUsage
	}

	target := vmconfig.DefaultTarget()
	if *arch != "" {
		target = vmconfig.TargetForArch(*arch)
	}
	if *maxSegments > uint(vmconfig.MaxPCISegments) {
		fmt.Fprintf(stderr, "Error: -max-pci-segments %d exceeds %d\n", *maxSegments, vmconfig.MaxPCISegments)
		return exitUsage
	}
	target.MaxPCISegments = uint16(*maxSegments)
	if err := target.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	path := fs.Arg(0)
	cfg, err := load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
		return exitInvalid
	}

	resolved, _, err := hotplug.Resolve(cfg, target)
	if err != nil {
		var violations validation.Violations
		if errors.As(err, &violations) {
			fmt.Fprintf(stderr, "%s: %d violation(s)\n", path, len(violations))
			for _, v := range violations {
				fmt.Fprintf(stderr, "  %s\n", v)
			}
			return exitInvalid
		}
		fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
		return exitInvalid
	}

	out, err := json.MarshalIndent(resolved, "", "  ")
	if err == nil && *output == "yaml" {
		out, err = yaml.JSONToYAML(out)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: encode resolved config: %v\n", err)
		return exitInvalid
	}
	fmt.Fprintln(stdout, strings.TrimRight(string(out), "\n"))
	return exitOK
}

func load(path string) (*vmconfig.VmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return vmconfig.DecodeYAML(data)
	default:
		return vmconfig.DecodeJSON(data)
	}
}
