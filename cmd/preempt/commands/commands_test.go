package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/preempt/config"
	"github.com/teranos/preempt/errors"
)

// useConfig points the commands at a single config file for one test
func useConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config.Reset()
	ConfigPath = path
	t.Cleanup(func() {
		ConfigPath = ""
		config.Reset()
	})
	return dir
}

func TestJobIDFromArgs(t *testing.T) {
	t.Setenv("SLURM_JOB_ID", "")

	id, err := jobIDFromArgs([]string{"4242"})
	require.NoError(t, err)
	assert.Equal(t, "4242", id)

	_, err = jobIDFromArgs(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoJob))
	assert.NotEmpty(t, errors.GetAllHints(err))

	t.Setenv("SLURM_JOB_ID", "77")
	id, err = jobIDFromArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "77", id)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "", resolvePath("/out", ""))
	assert.Equal(t, "/abs/x.db", resolvePath("/out", "/abs/x.db"))
	assert.Equal(t, "/out/x.db", resolvePath("/out", "x.db"))
	assert.Equal(t, "x.db", resolvePath("", "x.db"))
}

func TestBuildScript(t *testing.T) {
	useConfig(t, `
[job]
name = "lm"
partition = "learnfair"
nodes = 2
gpus_per_node = 8
mem = "64G"
time = "02:00:00"
signal_lead_seconds = 300

[workload]
command = "python train.py"
work_dir = "/runs/lm"
`)
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, RenderCmd.Flags().Set("preempt-bin", "/opt/bin/preempt"))
	t.Cleanup(func() { _ = RenderCmd.Flags().Set("preempt-bin", "") })

	script, err := buildScript(RenderCmd, cfg)
	require.NoError(t, err)

	out, err := script.String()
	require.NoError(t, err)
	assert.Contains(t, out, "#SBATCH --job-name=lm\n")
	assert.Contains(t, out, "#SBATCH --nodes=2\n")
	assert.Contains(t, out, "#SBATCH --mem=64G\n")
	assert.Contains(t, out, "#SBATCH --time=02:00:00\n")
	assert.Contains(t, out, "#SBATCH --signal=B:USR1@300\n")
	assert.Contains(t, out, "#SBATCH --requeue\n")
	assert.Contains(t, out, "cd /runs/lm\n")

	abs, err := filepath.Abs(ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, "exec /opt/bin/preempt run --config "+abs+"\n")
}

func TestBuildScript_LeadBeyondTimeLimit(t *testing.T) {
	useConfig(t, `
[job]
time = "00:01:00"
signal_lead_seconds = 120

[workload]
command = "python train.py"
`)
	cfg, err := loadConfig()
	require.NoError(t, err)

	_, err = buildScript(RenderCmd, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestBuildScript_RequiresCommand(t *testing.T) {
	useConfig(t, "[job]\nname = \"x\"\n")
	cfg, err := loadConfig()
	require.NoError(t, err)

	_, err = buildScript(RenderCmd, cfg)
	require.Error(t, err)
}

func TestConfigGetAndShow(t *testing.T) {
	useConfig(t, "[requeue]\ntimeout_seconds = 7\n")

	var out bytes.Buffer
	configGetCmd.SetOut(&out)
	t.Cleanup(func() { configGetCmd.SetOut(nil) })
	require.NoError(t, runConfigGet(configGetCmd, []string{"requeue.timeout_seconds"}))
	assert.Equal(t, "7\n", out.String())

	err := runConfigGet(configGetCmd, []string{"requeue.nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	for _, format := range []string{"toml", "json", "yaml"} {
		out.Reset()
		require.NoError(t, writeSettings(&out, config.GetViper().AllSettings(), format), format)
		assert.Contains(t, out.String(), "timeout_seconds", format)
	}
	assert.Error(t, writeSettings(&out, nil, "xml"))
}

func TestConfigWhere(t *testing.T) {
	useConfig(t, "")

	var out bytes.Buffer
	configWhereCmd.SetOut(&out)
	t.Cleanup(func() { configWhereCmd.SetOut(nil) })
	require.NoError(t, runConfigWhere(configWhereCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "[EXPLICIT]")
	assert.Contains(t, lines[2], "(loaded)")
	assert.Contains(t, lines[3], "PREEMPT_*")
}
