package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/internal/parser"
)

var validateNormalize bool

// validateCmd is the validate subcommand.
var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate workflow files without running them",
	Long: `Parse and validate workflow files. Directories are searched for .yml
and .yaml files. Validation covers structure, trigger and cron syntax,
the needs graph and matrix expansion.`,
	Example: `  matrixci validate .ci/build.yml
  matrixci validate .ci other.yml

  # Print the canonical form of a workflow
  matrixci validate --normalize build.yml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateWorkflows,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateNormalize, "normalize", false, "print the canonical YAML of each valid workflow")
}

func validateWorkflows(cmd *cobra.Command, args []string) error {
	p := parser.NewYAMLParser()
	printer := parser.NewYAMLPrinter()

	var valid, invalid int
	for _, path := range args {
		files, err := workflowFiles(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			invalid++
			continue
		}

		for _, file := range files {
			wf, err := p.ParseFile(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fail  %s\n      %v\n", file, err)
				invalid++
				continue
			}
			valid++
			if !quiet {
				fmt.Printf("ok    %s (%s, %d jobs)\n", file, wf.Name, len(wf.Jobs))
			}
			if validateNormalize {
				data, err := printer.Print(wf)
				if err != nil {
					return fmt.Errorf("printing %s: %w", file, err)
				}
				fmt.Println("---")
				os.Stdout.Write(data)
			}
		}
	}

	if invalid > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d of %d workflow(s) invalid", invalid, valid+invalid)}
	}
	return nil
}

// workflowFiles resolves a path to the workflow files it names: the file
// itself, or the .yml/.yaml files in the directory sorted by name.
func workflowFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", path)
	}
	return files, nil
}
