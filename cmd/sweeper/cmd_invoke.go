package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/internal/invocation"
)

var (
	invokeFunctionARN  string
	invokeFunctionName string
)

// invokeCmd represents the invoke command
var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run a full sweep configured from a function invocation",
	Long: `Run a full sweep as a deployed function would.

The stage is the alias at the end of the invoked function ARN; an ARN
without an alias means the "prod" stage. API_NAME and TEST_ACCOUNT_ID are
read from the environment and override the config file.`,
	Example: `  API_NAME=ansible-core-ci TEST_ACCOUNT_ID=123456789012 \
    sweeper invoke --function-arn arn:aws:lambda:us-east-1:111111111111:function:cleanup:dev`,
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVar(&invokeFunctionARN, "function-arn", "", "Invoked function ARN")
	invokeCmd.Flags().StringVar(&invokeFunctionName, "function-name", "", "Function name (default $AWS_LAMBDA_FUNCTION_NAME)")
	_ = invokeCmd.MarkFlagRequired("function-arn")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	inv, err := invocation.Parse(invokeFunctionARN, invokeFunctionName, os.Getenv)
	if err != nil {
		return err
	}

	cfg.Sweep.Stage = inv.Stage
	cfg.AWS.APIName = inv.APIName
	cfg.AWS.TestAccountID = inv.TestAccountID
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return runCleanup(cmd, args)
}
