//go:build property
// +build property

package proposal_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/proposal"
)

var intentKinds = []contracts.IntentKind{
	contracts.IntentCreateTask,
	contracts.IntentCreatePage,
	contracts.IntentAppendNote,
	contracts.IntentUpdateEntry,
	contracts.IntentQueryWorkspace,
	contracts.IntentSmallTalk,
	contracts.IntentUnknown,
}

func genIntent() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, len(intentKinds)-1),
		gen.AlphaString(),
	).Map(func(vals []interface{}) contracts.Intent {
		kind := intentKinds[vals[0].(int)]
		name := vals[1].(string)
		params := map[string]any{}
		if name != "" {
			params["name"] = name
		}
		return contracts.Intent{Kind: kind, Params: params}
	})
}

// TestBuildDeterminism: Build(intent, armed) == Build(intent, armed).
func TestBuildDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	b := proposal.NewBuilder("activate notion ops")

	properties.Property("identical inputs yield identical decisions", prop.ForAll(
		func(intent contracts.Intent, armed bool) bool {
			d1 := b.Build(intent, armed)
			d2 := b.Build(intent, armed)
			if d1.Text != d2.Text || len(d1.Proposals) != len(d2.Proposals) {
				return false
			}
			for i := range d1.Proposals {
				if d1.Proposals[i].Command != d2.Proposals[i].Command ||
					d1.Proposals[i].Scope != d2.Proposals[i].Scope ||
					d1.Proposals[i].DryRun != d2.Proposals[i].DryRun ||
					d1.Proposals[i].RequiresApproval != d2.Proposals[i].RequiresApproval {
					return false
				}
			}
			return true
		},
		genIntent(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestDisarmedNeverExecutable: no disarmed input produces an executable
// proposal, and no armed non-write does either.
func TestDisarmedNeverExecutable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	b := proposal.NewBuilder("activate notion ops")

	properties.Property("only armed writes reach the executable track", prop.ForAll(
		func(intent contracts.Intent, armed bool) bool {
			d := b.Build(intent, armed)
			if d.Executable() {
				return armed && intent.IsWrite()
			}
			return true
		},
		genIntent(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
