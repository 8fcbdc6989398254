package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
)

// candidateRetriever issues the lexical and vector queries for one filter set.
type candidateRetriever struct {
	store ports.PassageStore
}

type retrievedCandidates struct {
	lexical []domain.Candidate
	vector  []domain.Candidate
}

// retrieve runs both store queries concurrently and returns only after both finished.
func (r *candidateRetriever) retrieve(
	ctx context.Context,
	queryText string,
	queryVector []float32,
	filter domain.FilterSet,
	limit int,
) (retrievedCandidates, error) {
	if r.store == nil {
		return retrievedCandidates{}, domain.WrapError(domain.ErrConfiguration, "retrieve candidates", errors.New("passage store is not configured"))
	}
	if err := ctx.Err(); err != nil {
		return retrievedCandidates{}, err
	}

	var (
		wg         sync.WaitGroup
		out        retrievedCandidates
		lexicalErr error
		vectorErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.lexical, lexicalErr = r.store.SearchLexical(ctx, queryText, limit, filter)
	}()
	go func() {
		defer wg.Done()
		out.vector, vectorErr = r.store.SearchVector(ctx, queryVector, limit, filter)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return retrievedCandidates{}, err
	}
	if lexicalErr != nil {
		return retrievedCandidates{}, wrapRetrievalError(ctx, "lexical search", lexicalErr)
	}
	if vectorErr != nil {
		return retrievedCandidates{}, wrapRetrievalError(ctx, "vector search", vectorErr)
	}
	return out, nil
}

// wrapRetrievalError passes context errors through only when the caller's ctx is done.
// A dependency timeout under a live ctx is a retrieval failure.
func wrapRetrievalError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	if domain.IsKind(err, domain.ErrRetrieval) || domain.IsKind(err, domain.ErrConfiguration) {
		return err
	}
	return domain.WrapError(domain.ErrRetrieval, op, err)
}
