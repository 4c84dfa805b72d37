package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pybox/internal/storage"
)

// NewExecCmd creates the exec command.
func NewExecCmd() *cobra.Command {
	var (
		inlineCode string
		contextRaw string
		userID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Execute Python code through the sandbox pipeline",
		Long: `Execute Python code through the sandbox pipeline.

Code is read from the given file, from stdin when the file is "-", or
from the --code flag. Validation failures and runtime errors are
reported in the result; the command exits non-zero when execution fails.`,
		Example: `  # Run a script file
  pybox exec script.py

  # Run an inline snippet
  pybox exec -e "result = 2 + 3"

  # Pass context variables
  pybox exec -e "result = context['x'] * 2" --context '{"x": 21}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args, inlineCode)
			if err != nil {
				return err
			}

			var contextVars map[string]any
			if contextRaw != "" {
				if err := json.Unmarshal([]byte(contextRaw), &contextVars); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			executor, err := cliCtx.BuildExecutor()
			if err != nil {
				return err
			}
			defer executor.Cleanup()

			result := executor.Execute(cmd.Context(), code, contextVars)

			if cliCtx.Config.Exec.EnableHistory {
				if db, err := cliCtx.GetStorage(); err == nil {
					rec := storage.NewExecutionRecord(code, userID, result)
					if err := db.SaveExecution(rec); err != nil {
						cliCtx.Log().Warn().Err(err).Msg("failed to save execution record")
					}
				} else {
					cliCtx.Log().Warn().Err(err).Msg("history storage unavailable")
				}
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(data))
			} else {
				if result.Stdout != "" {
					fmt.Print(result.Stdout)
				}
				if result.ReturnValue != nil {
					data, _ := json.Marshal(result.ReturnValue)
					fmt.Printf("result: %s\n", data)
				}
			}

			if !result.Success {
				return fmt.Errorf("%s: %s", result.ErrorType, result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inlineCode, "code", "e", "", "inline code to execute")
	cmd.Flags().StringVar(&contextRaw, "context", "", "context variables as a JSON object")
	cmd.Flags().StringVar(&userID, "user", "", "user ID recorded with the execution")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full result as JSON")

	return cmd
}

func readCode(args []string, inline string) (string, error) {
	if inline != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("cannot combine --code with a file argument")
		}
		return inline, nil
	}
	if len(args) == 0 {
		return "", fmt.Errorf("provide a file argument or --code")
	}
	if args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}
