// Package workload starts and supervises the training process that runs
// under the preemption handler.
package workload

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"

	"github.com/teranos/preempt/errors"
)

// Spec describes how to launch the workload
type Spec struct {
	Command string
	Args    []string
	Params  map[string]interface{}

	Env     []string // KEY=VALUE, applied after EnvFile
	EnvFile string

	WorkDir string
	LogFile string // appended; empty = inherit our stdout/stderr
	Tee     bool   // with LogFile, also copy output to our stdout/stderr
	Grace   time.Duration
}

// Argv is the command line: the split command, then Args in order, then
// Params sorted by key as --key value flags.
func (s *Spec) Argv() ([]string, error) {
	argv, err := shellquote.Split(s.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "parse workload command %q", s.Command)
	}
	if len(argv) == 0 {
		return nil, errors.New("workload command is empty")
	}
	argv = append(argv, s.Args...)
	return append(argv, ParamFlags(s.Params)...), nil
}

// ParamFlags renders hyperparameters as command line flags.
// true renders a bare flag, false and nil are omitted, lists repeat the flag.
func ParamFlags(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		flag := k
		if !strings.HasPrefix(flag, "-") {
			flag = "--" + flag
		}
		out = appendParam(out, flag, params[k])
	}
	return out
}

func appendParam(out []string, flag string, v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return out
	case bool:
		if val {
			out = append(out, flag)
		}
		return out
	case []interface{}:
		for _, item := range val {
			out = appendParam(out, flag, item)
		}
		return out
	case []string:
		for _, item := range val {
			out = append(out, flag, item)
		}
		return out
	default:
		return append(out, flag, formatParam(val))
	}
}

func formatParam(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// Environ builds the workload environment: base, then EnvFile, then Env.
// Later entries win.
func (s *Spec) Environ(base []string) ([]string, error) {
	env := append([]string(nil), base...)

	if s.EnvFile != "" {
		vars, err := godotenv.Read(s.EnvFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read env file %s", s.EnvFile)
		}
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = setEnv(env, k, vars[k])
		}
	}

	for _, kv := range s.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.Newf("env entry %q is not KEY=VALUE", kv)
		}
		env = setEnv(env, k, v)
	}
	return env, nil
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
