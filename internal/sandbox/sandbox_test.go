package sandbox //nolint:testpackage // White-box testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePytestOutput(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		exitCode   int
		wantPassed bool
		want       Summary
	}{
		{
			name:       "all passing",
			output:     "collected 5 items\n\n5 passed in 0.42s\n",
			exitCode:   0,
			wantPassed: true,
			want:       Summary{Total: 5, Passed: 5},
		},
		{
			name:       "mixed results, failures first",
			output:     "2 failed, 3 passed, 1 skipped in 1.23s\n",
			exitCode:   1,
			wantPassed: false,
			want:       Summary{Total: 6, Passed: 3, Failed: 2, Skipped: 1},
		},
		{
			name:       "errors counted as failures",
			output:     "1 failed, 4 passed, 2 errors in 0.80s\n",
			exitCode:   1,
			wantPassed: false,
			want:       Summary{Total: 7, Passed: 4, Failed: 3},
		},
		{
			name:       "nothing passed",
			output:     "3 failed in 0.12s\n",
			exitCode:   1,
			wantPassed: false,
			want:       Summary{Total: 3, Failed: 3},
		},
		{
			name:       "collection error",
			output:     "1 error in 0.05s\n",
			exitCode:   2,
			wantPassed: false,
			want:       Summary{Total: 1, Failed: 1},
		},
		{
			name:       "unparseable output with failing exit",
			output:     "Traceback (most recent call last): ...",
			exitCode:   1,
			wantPassed: false,
			want:       Summary{Total: 1, Failed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, summary := parseOutput(LanguagePython, tt.output, tt.exitCode)
			assert.Equal(t, tt.wantPassed, passed)
			assert.Equal(t, tt.want, summary)
		})
	}
}

func TestParseGoTestOutput(t *testing.T) {
	output := `=== RUN   TestAdd
--- PASS: TestAdd (0.00s)
=== RUN   TestSub
--- FAIL: TestSub (0.01s)
=== RUN   TestMul
--- SKIP: TestMul (0.00s)
FAIL
`
	passed, summary := parseOutput(LanguageGo, output, 1)
	assert.False(t, passed)
	assert.Equal(t, Summary{Total: 3, Passed: 1, Failed: 1, Skipped: 1}, summary)
}

func TestParseOutputExitCodeOverridesCounts(t *testing.T) {
	// A crash after the summary line still fails the run.
	passed, _ := parseOutput(LanguagePython, "5 passed in 0.10s", 1)
	assert.False(t, passed)
}

func TestStripDockerLogHeaders(t *testing.T) {
	// 8-byte header: stream type, 3 zero bytes, 4-byte big-endian size.
	frame := append([]byte{1, 0, 0, 0, 0, 0, 0, 5}, []byte("hello")...)
	frame = append(frame, append([]byte{2, 0, 0, 0, 0, 0, 0, 6}, []byte(" world")...)...)

	assert.Equal(t, "hello world", stripDockerLogHeaders(frame))
	assert.Equal(t, "raw", stripDockerLogHeaders([]byte("raw")))
}

func TestLocalRunnerPasses(t *testing.T) {
	runner := NewLocalRunner(Config{
		Backend:        BackendLocal,
		Language:       LanguagePython,
		TimeoutSeconds: 5,
		TestCommand:    []string{"true"},
	})

	report, err := runner.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 1, report.Summary.Passed)
}

func TestLocalRunnerFails(t *testing.T) {
	runner := NewLocalRunner(Config{
		Backend:        BackendLocal,
		Language:       LanguagePython,
		TimeoutSeconds: 5,
		TestCommand:    []string{"false"},
	})

	report, err := runner.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.Summary.Failed)
}

func TestLocalRunnerTimeoutIsNotAnError(t *testing.T) {
	runner := NewLocalRunner(Config{
		Backend:        BackendLocal,
		Language:       LanguagePython,
		TimeoutSeconds: 1,
		TestCommand:    []string{"sleep", "30"},
	})

	start := time.Now()
	report, err := runner.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Contains(t, report.Output, "timed out after 1 seconds")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLocalRunnerMissingCommandIsAnError(t *testing.T) {
	runner := NewLocalRunner(Config{
		Backend:        BackendLocal,
		TimeoutSeconds: 5,
		TestCommand:    []string{"definitely-not-a-real-command-xyz"},
	})

	_, err := runner.Verify(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestNewRunnerSelectsBackend(t *testing.T) {
	runner, err := NewRunner(context.Background(), Config{Backend: BackendLocal})
	require.NoError(t, err)
	assert.IsType(t, &LocalRunner{}, runner)

	_, err = NewRunner(context.Background(), Config{Backend: "vm"})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, DefaultTimeoutSeconds, cfg.timeoutSeconds())
	assert.Equal(t, []string{"python", "-m", "pytest", "-v", "--tb=short"}, cfg.testCommand())

	goCfg := Config{Language: LanguageGo}
	assert.Equal(t, []string{"go", "test", "-v", "./..."}, goCfg.testCommand())
}
