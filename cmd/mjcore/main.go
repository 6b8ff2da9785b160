// Command mjcore is the CLI front end for the template engine: render
// a template against a JSON/YAML context file, disassemble a compiled
// template's instructions, or drive an interactive read-render-print
// loop. It is an ambient entry point, not a reimplementation of the
// upstream minijinja-cli tool.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/compiler"
	"github.com/kristofer/mjcore/pkg/environment"
	"github.com/kristofer/mjcore/pkg/parser"
	"github.com/kristofer/mjcore/pkg/value"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	var fuel int

	root := &cobra.Command{
		Use:     "mjcore",
		Short:   "mjcore renders Jinja2-compatible templates",
		Version: version,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable instruction trace logging")
	root.PersistentFlags().IntVar(&fuel, "fuel", 0, "instruction budget per render (0 = unlimited)")

	root.AddCommand(newRenderCmd(&debug, &fuel))
	root.AddCommand(newDisassembleCmd())
	root.AddCommand(newReplCmd(&debug, &fuel))
	return root
}

func newRenderCmd(debug *bool, fuel *int) *cobra.Command {
	var contextPath string
	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a template file against a JSON/YAML context file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templatePath := args[0]
			data, err := os.ReadFile(templatePath)
			if err != nil {
				return fmt.Errorf("reading template: %w", err)
			}

			env := environment.New()
			env.SetDebug(*debug)
			env.SetFuel(*fuel)
			env.SetLoader(environment.NewFileSystemLoader(filepath.Dir(templatePath)))

			root, err := loadContext(contextPath)
			if err != nil {
				return fmt.Errorf("loading context: %w", err)
			}

			name := filepath.Base(templatePath)
			if err := env.AddTemplate(name, string(data)); err != nil {
				return fmt.Errorf("compiling template: %w", err)
			}
			out, err := env.Render(name, root)
			if err != nil {
				return fmt.Errorf("rendering template: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&contextPath, "context", "", "JSON or YAML file supplying the root context")
	return cmd
}

// loadContext builds the root context map from a JSON or YAML file,
// or returns an empty context when path is unset.
func loadContext(path string) (map[string]value.Value, error) {
	if path == "" {
		return nil, nil
	}
	var root value.Value
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		root, err = value.FromYAMLFile(path)
	default:
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, readErr
		}
		root, err = value.FromJSON(data)
	}
	if err != nil {
		return nil, err
	}
	m, ok := root.Raw().(*value.OrderedMap)
	if !ok {
		return nil, fmt.Errorf("context file must contain a JSON/YAML object at the top level")
	}
	out := make(map[string]value.Value, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out[k.String()] = v
	}
	return out, nil
}

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassemble <template>",
		Short: "Compile a template and print its instruction stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading template: %w", err)
			}
			p := parser.New(string(data))
			tmpl, err := p.Parse()
			if err != nil {
				return fmt.Errorf("parse error: %w", err)
			}
			name := filepath.Base(args[0])
			ins, blocks, err := compiler.Compile(tmpl, name)
			if err != nil {
				return fmt.Errorf("compile error: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), bytecode.Disassemble(ins))
			for blockName, blockIns := range blocks {
				fmt.Fprintf(cmd.OutOrStdout(), "\nblock %s:\n%s\n", blockName, bytecode.Disassemble(blockIns))
			}
			return nil
		},
	}
}

func newReplCmd(debug *bool, fuel *int) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-render-print loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL(cmd, *debug, *fuel)
			return nil
		},
	}
}

// runREPL reads one line at a time, treating each as a standalone
// template body rendered against an empty context, reusing a single
// Environment across evaluations so registered filters/tests/globals
// persist between lines.
func runREPL(cmd *cobra.Command, debug bool, fuel int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mjcore REPL v%s\n", version)
	fmt.Fprintln(out, "Type a template expression or statement, or :quit to exit")

	env := environment.New()
	env.SetDebug(debug)
	env.SetFuel(fuel)
	if debug {
		env.Logger().SetFormatter(&logrus.TextFormatter{})
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "mjcore> ")
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
		rendered, err := env.RenderString(line, nil)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, rendered)
	}
}
