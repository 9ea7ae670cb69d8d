package aws

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/sweeper/pkg/resource"
)

var rateLimitCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"ProvisionedThroughputExceededException": true,
	"SlowDown":                               true,
	"PriorRequestNotComplete":                true,
}

var notFoundCodes = map[string]bool{
	"NoSuchBucket":     true,
	"NoSuchEntity":     true,
	"NoSuchHostedZone": true,
}

// translate tags an SDK error with its resource.ErrorKind. Errors that did
// not come from an AWS API are returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pe *resource.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	code := apiErr.ErrorCode()
	return &resource.ProviderError{
		Kind:    classify(code),
		Code:    code,
		Message: apiErr.ErrorMessage(),
		Err:     err,
	}
}

func classify(code string) resource.ErrorKind {
	switch {
	case rateLimitCodes[code]:
		return resource.ErrorRateLimited
	case notFoundCodes[code], strings.Contains(code, "NotFound"):
		return resource.ErrorNotFound
	default:
		return resource.ErrorOther
	}
}

func hasCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && classify(apiErr.ErrorCode()) == resource.ErrorNotFound
}

// stepErr checks a call that removes a dependency of the resource being
// terminated. A dependency that is already gone lets the terminate go on to
// its next step; only the final delete may report the resource itself gone.
func stepErr(err error, step string) error {
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
