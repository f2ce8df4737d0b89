package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

func newNormalizerFixture(statuses ...workflow.Status) (*memInvoiceRepo, *memAuditRepo, StatusNormalizer) {
	repo := newMemInvoiceRepo()
	for i, s := range statuses {
		repo.put(&entity.Invoice{ID: string(rune('a' + i)), Status: s, Version: 1})
	}
	audit := &memAuditRepo{}
	logger := &mockLogger{}
	return repo, audit, NewStatusNormalizer(repo, &mockTxManager{}, NewAuditService(audit, logger), logger)
}

func TestStatusNormalizer_RewritesLegacySpellings(t *testing.T) {
	repo, audit, normalizer := newNormalizerFixture("PM Approved", "pending finance approval", "PM Approved", workflow.StatusPaid)

	report, err := normalizer.Normalize(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []StatusRewrite{
		{From: "PM Approved", To: workflow.StatusPMApproved, Invoices: 2},
		{From: "pending finance approval", To: workflow.StatusPendingFinanceApproval, Invoices: 1},
	}, report.Rewrites)
	assert.Equal(t, int64(3), report.Total())

	assert.Equal(t, workflow.StatusPMApproved, repo.stored("a").Status)
	assert.Equal(t, workflow.StatusPendingFinanceApproval, repo.stored("b").Status)
	assert.Equal(t, workflow.StatusPaid, repo.stored("d").Status)
	assert.Equal(t, []string{entity.ActionStatusNormalized, entity.ActionStatusNormalized}, audit.actions())
}

func TestStatusNormalizer_DryRun(t *testing.T) {
	repo, audit, normalizer := newNormalizerFixture("Submitted")

	report, err := normalizer.Normalize(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, report.Rewrites, 1)
	assert.Equal(t, workflow.StatusReceived, report.Rewrites[0].To)
	assert.Equal(t, workflow.Status("Submitted"), repo.stored("a").Status)
	assert.Empty(t, audit.actions())
}

func TestStatusNormalizer_UnknownStatusAbortsRun(t *testing.T) {
	repo, _, normalizer := newNormalizerFixture("PM Approved", "on hold")

	_, err := normalizer.Normalize(context.Background(), false)

	assert.ErrorIs(t, err, workflow.ErrInvalidStatus)
	assert.Contains(t, err.Error(), `"on hold"`)
	assert.Equal(t, workflow.Status("PM Approved"), repo.stored("a").Status)
}

func TestStatusNormalizer_CanonicalStoreIsNoop(t *testing.T) {
	_, _, normalizer := newNormalizerFixture(workflow.StatusReceived, workflow.StatusVerified)

	report, err := normalizer.Normalize(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Rewrites)
}
