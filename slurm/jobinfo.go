package slurm

import (
	"strconv"
	"strings"

	"github.com/teranos/preempt/errors"
)

// JobInfo is the subset of `scontrol show job -o` preempt reports on.
type JobInfo struct {
	ID           string
	Name         string
	State        string
	Reason       string
	RestartCount int
	Requeue      bool
	RunTime      string
	TimeLimit    string
	SubmitTime   string
	Partition    string
	NumNodes     string
	Raw          map[string]string
}

// ParseJobInfo parses one-line `scontrol show job -o` output.
// Values may contain '='; tokens without '=' continue the previous value.
func ParseJobInfo(out string) (*JobInfo, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		// array jobs print one line per task; the first is the one asked for
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return nil, errors.New("empty scontrol output")
	}

	raw := make(map[string]string)
	var lastKey string
	for _, tok := range strings.Fields(line) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			if lastKey != "" {
				raw[lastKey] += " " + tok
			}
			continue
		}
		raw[key] = val
		lastKey = key
	}

	id := raw["JobId"]
	if id == "" {
		return nil, errors.Newf("no JobId in scontrol output %q", line)
	}

	restarts, _ := strconv.Atoi(raw["Restarts"])
	return &JobInfo{
		ID:           id,
		Name:         raw["JobName"],
		State:        raw["JobState"],
		Reason:       raw["Reason"],
		RestartCount: restarts,
		Requeue:      raw["Requeue"] == "1",
		RunTime:      raw["RunTime"],
		TimeLimit:    raw["TimeLimit"],
		SubmitTime:   raw["SubmitTime"],
		Partition:    raw["Partition"],
		NumNodes:     raw["NumNodes"],
		Raw:          raw,
	}, nil
}
