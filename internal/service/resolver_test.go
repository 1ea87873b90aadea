package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// absenceMap is an AbsenceChecker where listed users are always absent.
type absenceMap map[string]bool

func (m absenceMap) IsAbsentAt(_ context.Context, userID string, _ time.Time) (bool, error) {
	return m[userID], nil
}

func strPtr(s string) *string { return &s }

func TestResolveApproverNoPrimary(t *testing.T) {
	step := &repository.ApprovalStep{StepOrder: 1, ApproverRole: "gerente"}

	res, err := ResolveApprover(context.Background(), absenceMap{}, step, time.Now())
	require.NoError(t, err)
	assert.Nil(t, res.UserID)
	assert.False(t, res.IsRedirected)
	assert.Nil(t, res.RedirectedFrom)
}

func TestResolveApproverPrimaryPresent(t *testing.T) {
	step := &repository.ApprovalStep{
		PrimaryApproverID:    strPtr("ana"),
		SubstituteApproverID: strPtr("bruno"),
	}

	res, err := ResolveApprover(context.Background(), absenceMap{}, step, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.UserID)
	assert.Equal(t, "ana", *res.UserID)
	assert.False(t, res.IsRedirected)
}

func TestResolveApproverRedirectsToSubstitute(t *testing.T) {
	step := &repository.ApprovalStep{
		PrimaryApproverID:    strPtr("ana"),
		SubstituteApproverID: strPtr("bruno"),
	}

	res, err := ResolveApprover(context.Background(), absenceMap{"ana": true}, step, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.UserID)
	assert.Equal(t, "bruno", *res.UserID)
	assert.True(t, res.IsRedirected)
	require.NotNil(t, res.RedirectedFrom)
	assert.Equal(t, "ana", *res.RedirectedFrom)
}

func TestResolveApproverAbsentWithoutSubstitute(t *testing.T) {
	step := &repository.ApprovalStep{PrimaryApproverID: strPtr("ana")}

	res, err := ResolveApprover(context.Background(), absenceMap{"ana": true}, step, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.UserID)
	assert.Equal(t, "ana", *res.UserID)
	assert.False(t, res.IsRedirected, "absence without substitute must not redirect")
}
