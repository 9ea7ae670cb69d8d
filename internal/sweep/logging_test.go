package sweep

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// logLine returns the first JSON log line whose message starts with msg.
func logLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if m, _ := line["message"].(string); strings.HasPrefix(m, msg) {
			return line
		}
	}
	require.NoError(t, sc.Err())
	t.Fatalf("no log line %q in:\n%s", msg, buf.String())
	return nil
}

func runLogged(t *testing.T, things *fakeKind, store agestore.Store) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(things.descriptor("Thing", false)))

	e := New(reg, store, Options{RunID: "run-1"}, WithClock((&clock{now: t0}).Now), WithLogger(zerolog.New(&buf)))
	e.Run(context.Background(), testSession{})
	return &buf
}

func TestProcess_ErrorLogCarriesDiagnostics(t *testing.T) {
	store := agestore.NewMemoryStore()
	require.NoError(t, store.SetIfAbsent(context.Background(), "Thing:a", agestore.FormatTime(t0.Add(-time.Hour))))

	things := &fakeKind{terminateErr: &resource.ProviderError{Kind: resource.ErrorOther, Code: "DependencyViolation"}}
	things.set(thing{id: "a", name: "alpha"})

	line := logLine(t, runLogged(t, things, store), `error "DependencyViolation" terminating Thing: name=alpha`)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "Thing", line["kind"])
	assert.Equal(t, "a", line["id"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Contains(t, line["caller"], "process.go")
	assert.NotEmpty(t, line["stack"])
}

func TestProcess_RateLimitLogIsWarning(t *testing.T) {
	store := agestore.NewMemoryStore()
	require.NoError(t, store.SetIfAbsent(context.Background(), "Thing:a", agestore.FormatTime(t0.Add(-time.Hour))))

	things := &fakeKind{terminateErr: &resource.ProviderError{Kind: resource.ErrorRateLimited, Code: "Throttling"}}
	things.set(thing{id: "a", name: "alpha"})

	line := logLine(t, runLogged(t, things, store), `error "Throttling" terminating Thing: name=alpha`)
	assert.Equal(t, "warn", line["level"])
	assert.NotContains(t, line, "stack")
}

func TestResolve_StoreErrorLogCarriesUnit(t *testing.T) {
	store := &failingStore{Store: agestore.NewMemoryStore(), getErr: errors.New("table unavailable")}
	things := &fakeKind{}
	things.set(thing{id: "a", name: "alpha"})

	line := logLine(t, runLogged(t, things, store), "exception accessing age store")
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "123456789012", line["account"])
	assert.Equal(t, "us-east-1", line["region"])
	assert.Equal(t, "Thing", line["kind"])
	assert.Equal(t, "a", line["id"])
	assert.Equal(t, "Thing:a", line["key"])
}
