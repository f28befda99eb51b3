package cmd

import (
	"fmt"
	"strings"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

// nameFilter builds a single include expression selecting exactly the named
// agents, or "" when names is empty (CompileAll skips empty expressions, so
// an unconditional append is always safe).
func nameFilter(names []string) string {
	if len(names) == 0 {
		return ""
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return fmt.Sprintf("name in [%s]", strings.Join(quoted, ", "))
}

func withNameFilter(include []string, names []string) []string {
	f := nameFilter(names)
	if f == "" {
		return include
	}
	return append(append([]string{}, include...), f)
}

func noSelectionError() error {
	return &errs.UserInputError{
		Message: "no agents selected",
		Hint:    "pass one or more agent names, --all, or --include/--exclude",
	}
}

func parseErrorBehavior(s string) domain.ErrorBehavior {
	if strings.EqualFold(s, "abort") {
		return domain.ErrorBehaviorAbort
	}
	return domain.ErrorBehaviorContinue
}

func toOperationResult(r fleet.OpResult) cli.OperationResult {
	out := cli.OperationResult{}
	for _, name := range r.Successful {
		out.Items = append(out.Items, cli.ItemResult{Name: name, Success: true})
	}
	for _, f := range r.Failed {
		out.Items = append(out.Items, cli.ItemResult{Name: f.Name, Success: false, Message: f.Message})
	}
	return out
}
