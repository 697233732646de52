// Package sbatch renders the batch script that runs a workload under the
// preemption handler.
package sbatch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/job"
)

// Script describes one batch script
type Script struct {
	JobName    string
	Resources  job.Resources
	Array      string
	Constraint string
	Account    string
	QOS        string
	Comment    string
	Output     string
	Error      string

	// WarnSignal is delivered to the batch shell SignalLead before the time limit
	WarnSignal string
	SignalLead time.Duration

	// Command replaces the batch shell (exec) so the signals reach it.
	// Usually "preempt run --config <path>".
	Command []string
	Env     []string // exported before exec, KEY=VALUE
	WorkDir string
}

type scriptData struct {
	Directives []string
	Exports    []string
	WorkDir    string
	Command    string
}

var scriptTemplate = template.Must(template.New("sbatch").Parse(`#!/bin/bash
{{- range .Directives}}
#SBATCH {{.}}
{{- end}}

set -euo pipefail
{{- range .Exports}}
export {{.}}
{{- end}}
{{- if .WorkDir}}
cd {{.WorkDir}}
{{- end}}

exec {{.Command}}
`))

// Directives returns the #SBATCH flags in render order
func (s *Script) Directives() ([]string, error) {
	if s.SignalLead <= 0 {
		return nil, errors.Newf("signal lead must be positive, got %s", s.SignalLead)
	}
	if s.Resources.TimeLimit > 0 && s.SignalLead >= s.Resources.TimeLimit {
		return nil, errors.Newf("signal lead %s is not shorter than time limit %s", s.SignalLead, s.Resources.TimeLimit)
	}

	warn := strings.TrimPrefix(strings.ToUpper(s.WarnSignal), "SIG")
	if warn == "" {
		warn = "USR1"
	}

	var d []string
	add := func(flag, value string) {
		if value != "" {
			d = append(d, fmt.Sprintf("--%s=%s", flag, value))
		}
	}
	addInt := func(flag string, value int) {
		if value > 0 {
			add(flag, fmt.Sprint(value))
		}
	}

	r := s.Resources
	add("job-name", s.JobName)
	add("partition", r.Partition)
	add("account", s.Account)
	add("qos", s.QOS)
	addInt("nodes", r.Nodes)
	addInt("ntasks-per-node", r.TasksPerNode)
	addInt("gpus-per-node", r.GPUsPerNode)
	addInt("cpus-per-task", r.CPUsPerTask)
	if r.MemoryMB > 0 {
		add("mem", job.FormatMemory(r.MemoryMB))
	}
	if r.TimeLimit > 0 {
		add("time", job.FormatTimeLimit(r.TimeLimit))
	}
	add("array", s.Array)
	add("constraint", s.Constraint)
	add("output", s.Output)
	add("error", s.Error)
	add("comment", s.Comment)

	// B: sends the warning to the batch shell only, which exec hands to preempt
	add("signal", fmt.Sprintf("B:%s@%d", warn, int(s.SignalLead.Seconds())))
	d = append(d, "--requeue", "--open-mode=append")
	return d, nil
}

// Render writes the script to w
func (s *Script) Render(w io.Writer) error {
	if len(s.Command) == 0 {
		return errors.New("batch script has no command")
	}

	directives, err := s.Directives()
	if err != nil {
		return err
	}

	data := scriptData{
		Directives: quoteDirectives(directives),
		Command:    shellquote.Join(s.Command...),
	}
	if s.WorkDir != "" {
		data.WorkDir = shellquote.Join(s.WorkDir)
	}
	for _, kv := range s.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return errors.Newf("env entry %q is not KEY=VALUE", kv)
		}
		data.Exports = append(data.Exports, k+"="+shellquote.Join(v))
	}

	if err := scriptTemplate.Execute(w, data); err != nil {
		return errors.Wrap(err, "execute sbatch template")
	}
	return nil
}

// String renders the script, for previews
func (s *Script) String() (string, error) {
	var buf bytes.Buffer
	if err := s.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sbatch parses #SBATCH lines with its own word splitting; quote values with spaces
func quoteDirectives(in []string) []string {
	out := make([]string, len(in))
	for i, d := range in {
		flag, value, ok := strings.Cut(d, "=")
		if ok && strings.ContainsAny(value, " \t") {
			d = flag + "=" + shellquote.Join(value)
		}
		out[i] = d
	}
	return out
}

// WriteFile renders the script to path, executable
func (s *Script) WriteFile(path string) error {
	content, err := s.String()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		return errors.Wrapf(err, "write batch script %s", path)
	}
	return nil
}
