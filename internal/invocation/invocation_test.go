package invocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestStage(t *testing.T) {
	tests := []struct {
		name    string
		arn     string
		fn      string
		want    string
		wantErr bool
	}{
		{"alias", "arn:aws:lambda:us-east-1:123456789012:function:terminator:dev", "terminator", "dev", false},
		{"no alias implies prod", "arn:aws:lambda:us-east-1:123456789012:function:terminator", "terminator", "prod", false},
		{"name mismatch", "arn:aws:lambda:us-east-1:123456789012:function:other:dev", "terminator", "", true},
		{"not a function", "arn:aws:lambda:us-east-1:123456789012:layer:terminator:dev", "terminator", "", true},
		{"too many parts", "arn:aws:lambda:us-east-1:123456789012:function:terminator:dev:extra", "terminator", "", true},
		{"too few parts", "arn:aws:lambda:us-east-1:123456789012", "terminator", "", true},
		{"empty alias", "arn:aws:lambda:us-east-1:123456789012:function:terminator:", "terminator", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Stage(tt.arn, tt.fn)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnexpectedARN)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	inv, err := Parse("arn:aws:lambda:us-east-1:111111111111:function:terminator:staging", "terminator", env(map[string]string{
		EnvAPIName:       "ansible-core-ci",
		EnvTestAccountID: "123456789012",
	}))
	require.NoError(t, err)
	assert.Equal(t, Invocation{Stage: "staging", APIName: "ansible-core-ci", TestAccountID: "123456789012"}, inv)
}

func TestParse_FunctionNameFromEnv(t *testing.T) {
	inv, err := Parse("arn:aws:lambda:us-east-1:111111111111:function:terminator", "", env(map[string]string{
		EnvFunctionName:  "terminator",
		EnvAPIName:       "ansible-core-ci",
		EnvTestAccountID: "123456789012",
	}))
	require.NoError(t, err)
	assert.Equal(t, "prod", inv.Stage)
}

func TestParse_MissingEnv(t *testing.T) {
	arn := "arn:aws:lambda:us-east-1:111111111111:function:terminator:dev"

	_, err := Parse(arn, "terminator", env(map[string]string{EnvTestAccountID: "123456789012"}))
	assert.ErrorIs(t, err, ErrMissingEnv)
	assert.ErrorContains(t, err, EnvAPIName)

	_, err = Parse(arn, "terminator", env(map[string]string{EnvAPIName: "ansible-core-ci"}))
	assert.ErrorIs(t, err, ErrMissingEnv)
	assert.ErrorContains(t, err, EnvTestAccountID)
}

func TestParse_BadARN(t *testing.T) {
	_, err := Parse("not-an-arn", "terminator", env(map[string]string{
		EnvAPIName:       "ansible-core-ci",
		EnvTestAccountID: "123456789012",
	}))
	assert.ErrorIs(t, err, ErrUnexpectedARN)
}
