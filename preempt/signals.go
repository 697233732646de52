//go:build unix

package preempt

import (
	"os"
	"strings"
	"syscall"

	"github.com/teranos/preempt/errors"
)

var signalsByName = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"TERM": syscall.SIGTERM,
	"CONT": syscall.SIGCONT,
	"URG":  syscall.SIGURG,
	"XCPU": syscall.SIGXCPU,
}

// ParseSignal resolves "USR1", "SIGUSR1" or "sigusr1" to a signal.
// SIGKILL and SIGSTOP cannot be caught and are rejected.
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	if sig, ok := signalsByName[n]; ok {
		return sig, nil
	}
	return 0, errors.WithHintf(errors.Newf("unsupported signal %q", name),
		"use one of HUP, INT, QUIT, USR1, USR2, TERM, CONT, URG, XCPU")
}

// SignalName returns the conventional name ("SIGUSR1") of a signal.
func SignalName(sig os.Signal) string {
	return signalName(sig)
}

func signalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		for name, v := range signalsByName {
			if v == s {
				return "SIG" + name
			}
		}
	}
	return sig.String()
}

// DefaultBindings are Slurm's conventions: --signal=B:USR1@<lead> announces
// preemption, SIGTERM starts the kill sequence.
func DefaultBindings() Bindings {
	return Bindings{
		syscall.SIGUSR1: KindWarn,
		syscall.SIGTERM: KindTerm,
	}
}

// BindingsFromNames builds bindings from configured signal names.
func BindingsFromNames(warn, term string) (Bindings, error) {
	w, err := ParseSignal(warn)
	if err != nil {
		return nil, errors.Wrap(err, "warn signal")
	}
	t, err := ParseSignal(term)
	if err != nil {
		return nil, errors.Wrap(err, "term signal")
	}
	if w == t {
		return nil, errors.Newf("warn and term signals must differ, both are %s", signalName(w))
	}
	return Bindings{w: KindWarn, t: KindTerm}, nil
}
