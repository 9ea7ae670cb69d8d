// Package invocation derives a sweep's parameters from the environment of a
// deployed function invocation.
package invocation

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables read on invocation.
const (
	EnvAPIName       = "API_NAME"
	EnvTestAccountID = "TEST_ACCOUNT_ID"
	EnvFunctionName  = "AWS_LAMBDA_FUNCTION_NAME"
)

// DefaultStage is assumed when the ARN carries no alias, e.g. when invoked
// from the console.
const DefaultStage = "prod"

var (
	// ErrUnexpectedARN is returned for ARNs that do not name the invoked
	// function with a stage alias.
	ErrUnexpectedARN = errors.New("unexpected function arn")
	// ErrMissingEnv is returned when a required variable is unset.
	ErrMissingEnv = errors.New("missing environment variable")
)

// Invocation holds the parameters of one invoked sweep.
type Invocation struct {
	Stage         string
	APIName       string
	TestAccountID string
}

// Stage extracts the stage alias from an invoked function ARN of the form
// arn:aws:lambda:region:account:function:name:stage.
func Stage(functionARN, functionName string) (string, error) {
	parts := strings.Split(functionARN, ":")
	if len(parts) == 7 {
		parts = append(parts, DefaultStage)
	}

	if len(parts) != 8 || parts[5] != "function" || parts[6] != functionName || parts[7] == "" {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedARN, functionARN)
	}
	return parts[7], nil
}

// Parse builds an Invocation from the invoked ARN and getenv. An empty
// functionName falls back to AWS_LAMBDA_FUNCTION_NAME.
func Parse(functionARN, functionName string, getenv func(string) string) (Invocation, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if functionName == "" {
		functionName = getenv(EnvFunctionName)
	}

	stage, err := Stage(functionARN, functionName)
	if err != nil {
		return Invocation{}, err
	}

	inv := Invocation{
		Stage:         stage,
		APIName:       getenv(EnvAPIName),
		TestAccountID: getenv(EnvTestAccountID),
	}
	if inv.APIName == "" {
		return Invocation{}, fmt.Errorf("%w: %s", ErrMissingEnv, EnvAPIName)
	}
	if inv.TestAccountID == "" {
		return Invocation{}, fmt.Errorf("%w: %s", ErrMissingEnv, EnvTestAccountID)
	}
	return inv, nil
}
