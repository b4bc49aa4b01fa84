package verify

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Mode selects how the test harness builds the environment of a check.
type Mode string

const (
	// ModeAmbient inherits the process environment, as CI runs do.
	ModeAmbient Mode = "ambient"
	// ModeIsolated hands checks a minimal environment with a private HOME.
	ModeIsolated Mode = "isolated"
)

// OverridePrefix marks ambient variables that are re-exported, prefix stripped,
// to checks running in ModeAmbient.
const OverridePrefix = "NODESHIP_TEST_"

const envFlag = "TEST_WITH_ENV_VARS"

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAmbient, ModeIsolated:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown test mode %q", s)
}

type Harness struct {
	Mode Mode
	// Home is the private HOME used in ModeIsolated.
	Home string
	// Lookup supplies the ambient environment; nil means os.Environ.
	Lookup func() []string
}

// Environ returns a freshly allocated environment for one check. Calls never
// share backing arrays, so one mode cannot leak settings into another.
func (h Harness) Environ() []string {
	ambient := os.Environ
	if h.Lookup != nil {
		ambient = h.Lookup
	}

	if h.Mode == ModeIsolated {
		env := []string{envFlag + "=false"}
		for _, kv := range ambient() {
			k, _, _ := strings.Cut(kv, "=")
			if k == "PATH" || k == "LANG" {
				env = append(env, kv)
			}
		}
		home := h.Home
		if home == "" {
			home = os.TempDir()
		}
		return append(env, "HOME="+home)
	}

	vars := map[string]string{}
	var overrides []string
	for _, kv := range ambient() {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
		if strings.HasPrefix(k, OverridePrefix) && len(k) > len(OverridePrefix) {
			overrides = append(overrides, k)
		}
	}
	sort.Strings(overrides)
	for _, k := range overrides {
		vars[strings.TrimPrefix(k, OverridePrefix)] = vars[k]
	}
	vars[envFlag] = "true"

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
