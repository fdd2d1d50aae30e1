package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-cat/internal/cat"
	"github.com/p-n-ai/pai-cat/internal/irt"
	"github.com/p-n-ai/pai-cat/internal/itembank"
)

const simulatedOwner = "catctl-simulee"

// simulation drives one attempt with a simulee of known ability.
type simulation struct {
	trueTheta float64
	seed      uint64
	policy    string
	maxItems  int
	minSE     float64
}

func newSimulateCmd() *cobra.Command {
	var (
		flags bankFlags
		sim   simulation
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an adaptive test against a simulated test-taker",
		Long: "Answers each item correctly with the 3PL probability at --theta and prints\n" +
			"the estimate after every step. The same --seed replays the same session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closeFn, err := flags.provider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return sim.run(cmd.Context(), cmd.OutOrStdout(), p)
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&sim.trueTheta, "theta", 0, "true ability of the simulee")
	cmd.Flags().Uint64Var(&sim.seed, "seed", 1, "random seed for the simulee's answers")
	cmd.Flags().StringVar(&sim.policy, "policy", irt.PolicyMaxItems, "stopping policy: max_items or min_error")
	cmd.Flags().IntVar(&sim.maxItems, "max-items", irt.DefaultMaxItems, "item limit for max_items")
	cmd.Flags().Float64Var(&sim.minSE, "min-se", irt.DefaultMinSE, "standard error target for min_error")
	return cmd
}

func (s simulation) run(ctx context.Context, out io.Writer, p itembank.Provider) error {
	stopper, err := irt.NewStopper(s.policy, s.maxItems, s.minSE)
	if err != nil {
		return err
	}

	bankCache := itembank.NewCache(p)
	bank, err := bankCache.Get(ctx)
	if err != nil {
		return err
	}

	store := cat.NewMemoryStore()
	if err := store.RegisterOwner(ctx, simulatedOwner); err != nil {
		return err
	}
	engine := cat.NewEngine(cat.EngineConfig{
		Bank:      bankCache,
		Store:     store,
		Estimator: irt.NewEstimator(),
		Stopper:   stopper,
	})

	started, err := engine.Start(ctx, simulatedOwner, "simulation")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "attempt %s, true theta %.2f, %d items in bank\n", started.Attempt.ID, s.trueTheta, bank.Len())

	rng := rand.New(rand.NewPCG(s.seed, s.seed))
	next := &started.FirstItem
	for step := 1; next != nil; step++ {
		item, _, ok := bank.ByID(next.ID)
		if !ok {
			return fmt.Errorf("%w: %s", cat.ErrUnknownItem, next.ID)
		}
		correct := rng.Float64() < irt.Probability(s.trueTheta, item.Params)

		res, err := engine.Answer(ctx, started.Attempt.ID, item.ID, choose(item, correct))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%3d  %-24s correct=%-5t theta=%s se=%s\n",
			step, item.ID, correct, formatEstimate(res.Theta), formatEstimate(res.SE))
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "     warning: %s\n", w)
		}

		if res.IsComplete {
			fmt.Fprintf(out, "stopped: %s\n", res.StopReason)
			fmt.Fprintf(out, "score:   %.1f%%\n", *res.FinalScorePercent)
			weak := "none"
			if len(res.WeakTopics) > 0 {
				weak = strings.Join(res.WeakTopics, ", ")
			}
			fmt.Fprintf(out, "weak:    %s\n", weak)
		}
		next = res.NextItem
	}
	return nil
}

// choose returns a keyed option when correct and an unkeyed one otherwise.
// When no unkeyed option exists the out-of-range index scores as incorrect.
func choose(item itembank.Item, correct bool) int {
	if correct && len(item.CorrectOptions) > 0 {
		return item.CorrectOptions[0]
	}
	for i := range item.Options {
		if !slices.Contains(item.CorrectOptions, i) {
			return i
		}
	}
	return len(item.Options)
}

func formatEstimate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
