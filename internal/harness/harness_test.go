package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v\ntrace: %+v", result.Errors, result.Trace)
			assert.Len(t, result.Trace, len(scenario.Flow))
		})
	}
}

func TestRunReportsMismatches(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
devices: [alice, shop]
flow:
  - {action: load, device: alice, amount: 1000}
  - {action: pay, from: alice, to: shop, amount: 600}
  - {action: pay, from: alice, to: shop, amount: 100, expect: {error: policy_violation}}
assertions:
  - {type: balance, device: alice, value: 1000}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "flow[1]: unexpected error")
	assert.Contains(t, result.Errors[1], "flow[2]: expected policy_violation error")
	assert.Contains(t, result.Errors[2], "alice balance: expected 1000, got 900")

	require.Len(t, result.Trace, 3)
	assert.Equal(t, 1, result.Trace[0].Seq)
	assert.Equal(t, "ok", result.Trace[0].Outcome)
	assert.Equal(t, "policy_violation", result.Trace[1].Outcome)
	assert.Equal(t, "alice", result.Trace[1].Device)
}

func TestRunCancelled(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: cancelled
devices: [alice]
flow:
  - {action: load, device: alice, amount: 100}
`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, scenario)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseScenarioRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndevices: [a]\nflow: [{action: load, device: a, amount: 1}]\nextra: 1\n",
			want: "field extra not found",
		},
		{
			name: "missing name",
			yaml: "devices: [a]\nflow: [{action: load, device: a, amount: 1}]\n",
			want: "name is required",
		},
		{
			name: "no devices",
			yaml: "name: x\nflow: [{action: advance, duration: 1h}]\n",
			want: "at least one device",
		},
		{
			name: "duplicate device",
			yaml: "name: x\ndevices: [a, a]\nflow: [{action: advance, duration: 1h}]\n",
			want: `device "a" declared twice`,
		},
		{
			name: "empty flow",
			yaml: "name: x\ndevices: [a]\n",
			want: "flow must have at least one step",
		},
		{
			name: "unknown action",
			yaml: "name: x\ndevices: [a]\nflow: [{action: teleport}]\n",
			want: `unknown action "teleport"`,
		},
		{
			name: "unknown device",
			yaml: "name: x\ndevices: [a]\nflow: [{action: load, device: b, amount: 1}]\n",
			want: `unknown device "b"`,
		},
		{
			name: "self payment",
			yaml: "name: x\ndevices: [a]\nflow: [{action: pay, from: a, to: a, amount: 1}]\n",
			want: "payer and payee must differ",
		},
		{
			name: "reverse of unnamed payment",
			yaml: "name: x\ndevices: [a]\nflow: [{action: reverse, device: a, payment: p}]\n",
			want: `unknown payment "p"`,
		},
		{
			name: "bad duration",
			yaml: "name: x\ndevices: [a]\nflow: [{action: advance, duration: soon}]\n",
			want: "duration",
		},
		{
			name: "non-positive limits",
			yaml: "name: x\ndevices: [a]\nserver_limits: {per_tx: 0, daily: 1, wallet_max: 1}\nflow: [{action: advance, duration: 1h}]\n",
			want: "policy limits must be positive",
		},
		{
			name: "balance without value",
			yaml: "name: x\ndevices: [a]\nflow: [{action: advance, duration: 1h}]\nassertions: [{type: balance, device: a}]\n",
			want: "balance needs a known device and a value",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndevices: [a]\nflow: [{action: advance, duration: 1h}]\nassertions: [{type: vibes}]\n",
			want: `unknown type "vibes"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
