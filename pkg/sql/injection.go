package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// InjectionCheckResult describes a variable value that looks like SQL injection.
type InjectionCheckResult struct {
	VariableName string
	Value        string
	Fingerprint  string // libinjection fingerprint of the detected pattern
}

// CheckVariableForInjection runs libinjection over a string value. Other
// types cannot carry an injection and return nil.
//
// Flagged values are still escaped by Bind; the result only feeds the
// security audit log.
func CheckVariableForInjection(v models.Variable) *InjectionCheckResult {
	s, ok := v.Value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(s)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		VariableName: v.Name,
		Value:        s,
		Fingerprint:  string(fingerprint),
	}
}

// CheckVariablesForInjection checks every variable and returns the flagged
// ones sorted by name.
func CheckVariablesForInjection(vars map[string]models.Variable) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, v := range vars {
		if v.Name == "" {
			v.Name = name
		}
		if r := CheckVariableForInjection(v); r != nil {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].VariableName < results[j].VariableName })
	return results
}
