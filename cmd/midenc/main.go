// Command midenc compiles textual HIR modules into Miden Assembly.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/0xpolygonmiden/midenc/internal/diag"
	"github.com/0xpolygonmiden/midenc/internal/driver"
	"github.com/0xpolygonmiden/midenc/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "midenc",
		Short:         "Compiler from SSA-form IR to Miden Assembly",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(compileCmd())
	return root
}

func compileCmd() *cobra.Command {
	var (
		opts       session.Options
		configPath string
		emit       []string
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "compile [flags] <input>",
		Short: "Compile a module to the selected output types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := session.LoadConfig(configPath, &opts); err != nil {
					return err
				}
			} else if _, err := os.Stat("midenc.toml"); err == nil {
				if err := session.LoadConfig("midenc.toml", &opts); err != nil {
					return err
				}
			}

			sess := session.New(opts, os.Stderr, nil)
			if outFile != "" {
				f := session.RealPath(outFile)
				sess.Outputs.OutFile = &f
			}
			for _, spec := range emit {
				if spec == "all" {
					sess.Outputs.RequestAll()
					continue
				}
				name, path, hasPath := cutEmitSpec(spec)
				ty, err := session.ParseOutputType(name)
				if err != nil {
					return err
				}
				var file *session.OutputFile
				if hasPath {
					if path == "-" {
						file = &session.Stdout
					} else {
						f := session.RealPath(path)
						file = &f
					}
				}
				sess.Outputs.Request(ty, file)
			}

			defer func() {
				if r := recover(); r != nil {
					if r == diag.ErrAborted {
						os.Exit(1)
					}
					panic(r)
				}
			}()

			if err := driver.CompileFile(args[0], sess); err != nil {
				logrus.WithError(err).Debug("compilation failed")
				return fmt.Errorf("compilation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ProjectName, "name", "", "output file stem")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "", "directory for final artifacts")
	cmd.Flags().StringVar(&opts.TmpDir, "tmp-dir", "", "directory for intermediate artifacts")
	cmd.Flags().StringVar(&opts.Entrypoint, "entrypoint", "", "fully-qualified program entrypoint, e.g. app::main")
	cmd.Flags().BoolVar(&opts.WarningsAsErrors, "warnings-as-errors", false, "treat warnings as errors")
	cmd.Flags().IntVarP(&opts.Verbosity, "verbosity", "v", 0, "diagnostic verbosity (0-3)")
	cmd.Flags().BoolVar(&opts.DebugLog, "debug-log", false, "enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a midenc.toml config file")
	cmd.Flags().StringArrayVar(&emit, "emit", nil, "output types to emit: TYPE[=PATH], or 'all' (types: ast, hir, masm, mast, masl)")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "path of the final artifact")
	return cmd
}

func cutEmitSpec(spec string) (name, path string, hasPath bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			return spec[:i], spec[i+1:], true
		}
	}
	return spec, "", false
}
