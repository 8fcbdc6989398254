package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

type fanOutcome struct {
	groups   []domain.EntityResults
	results  []domain.RankedResult
	applied  bool
	warnings []string
	debug    domain.DebugInfo
}

func perEntityBudget(finalK, entities, minPerEntity int) int {
	if entities <= 0 {
		return finalK
	}
	budget := finalK / entities
	if budget < minPerEntity {
		budget = minPerEntity
	}
	return budget
}

// fanOut runs one sub-pipeline per entity and keeps groups in entity order.
// A failing entity yields an empty group. Only configuration errors and the
// caller's own cancellation abort the whole call.
func (uc *PolicySearchUseCase) fanOut(
	parent context.Context,
	question string,
	queryVector []float32,
	filters domain.FilterSet,
	candidateBudget int,
	finalK int,
) (fanOutcome, error) {
	orgs := filters.Orgs
	perEntity := perEntityBudget(finalK, len(orgs), uc.opts.FanoutMinPerEntity)
	entityCandidates := candidateBudget
	if entityCandidates < uc.opts.CandidateBudget {
		entityCandidates = uc.opts.CandidateBudget
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	outcomes := make([]pipelineOutcome, len(orgs))
	errs := make([]error, len(orgs))
	var wg sync.WaitGroup
	for i, org := range orgs {
		task := func() {
			defer wg.Done()
			outcomes[i], errs[i] = uc.runPipeline(ctx, question, queryVector, filters.ForOrg(org), entityCandidates, perEntity)
			if domain.IsKind(errs[i], domain.ErrConfiguration) {
				cancel()
			}
		}
		wg.Add(1)
		if err := uc.submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit fan-out task: %w", err)
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && domain.IsKind(err, domain.ErrConfiguration) {
			return fanOutcome{}, err
		}
	}
	if err := parent.Err(); err != nil {
		return fanOutcome{}, err
	}

	out := fanOutcome{
		groups:  make([]domain.EntityResults, 0, len(orgs)),
		results: make([]domain.RankedResult, 0, perEntity*len(orgs)),
	}
	rankedGroups, rerankedGroups := 0, 0
	for i, org := range orgs {
		group := domain.EntityResults{Org: org, Results: []domain.RankedResult{}}
		if errs[i] != nil {
			slog.Warn("fanout_entity_failed", "org", org, "error", errs[i].Error())
			if uc.metrics != nil {
				uc.metrics.ObserveFanoutFailure()
			}
			group.Warning = fmt.Sprintf("Search failed for %s; no results for this org.", org)
			out.warnings = append(out.warnings, group.Warning)
			out.groups = append(out.groups, group)
			continue
		}

		outcome := outcomes[i]
		group.Results = outcome.results
		group.Warning = outcome.warning
		if group.Warning != "" {
			out.warnings = append(out.warnings, group.Warning)
		}
		if len(outcome.results) > 0 {
			rankedGroups++
			if outcome.applied {
				rerankedGroups++
			}
		}
		out.results = append(out.results, outcome.results...)
		out.debug.CandidateCount += outcome.debug.CandidateCount
		out.debug.LexicalCount += outcome.debug.LexicalCount
		out.debug.VectorCount += outcome.debug.VectorCount
		out.groups = append(out.groups, group)
	}
	out.applied = rankedGroups > 0 && rerankedGroups == rankedGroups
	return out, nil
}

func (uc *PolicySearchUseCase) submit(task func()) error {
	if uc.pool == nil {
		go task()
		return nil
	}
	return uc.pool.Submit(task)
}
