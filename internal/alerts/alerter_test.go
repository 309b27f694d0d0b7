package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func critical(id string) domain.Recommendation {
	return domain.Recommendation{
		ID: id, EntityType: domain.EntityKeyword, EntityID: "k-" + id, EntityName: "shoes",
		AdjustmentType: domain.AdjustBid, CurrentValue: 2, RecommendedValue: 1.5,
		AdjustmentPercentage: -25, Priority: domain.PriorityCritical, Confidence: 0.95,
		Reason: "ACOS 0.80 exceeds target 0.30", RulesTriggered: []domain.RuleID{domain.RuleACOS},
	}
}

func alertsConfig() config.AlertsConfig {
	return config.AlertsConfig{Enabled: true, From: "bidguard@example.com", To: []string{"ops@example.com"}}
}

func TestNotifyCritical(t *testing.T) {
	ses := &fakeSES{}
	a, err := New(alertsConfig(), ses)
	require.NoError(t, err)

	low := critical("r3")
	low.Priority = domain.PriorityLow
	err = a.NotifyCritical(context.Background(), []domain.Recommendation{critical("r1"), low, critical("r2")})
	require.NoError(t, err)
	require.Len(t, ses.inputs, 1)

	in := ses.inputs[0]
	assert.Equal(t, "bidguard@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "[bidguard] 2 critical recommendations awaiting review", aws.ToString(in.Content.Simple.Subject.Data))

	body := aws.ToString(in.Content.Simple.Body.Text.Data)
	assert.Contains(t, body, "keyword k-r1 (shoes)")
	assert.Contains(t, body, "bid: 2.00 -> 1.50 (-25.0%)")
	assert.Contains(t, body, "ACOS 0.80 exceeds target 0.30")
	assert.Contains(t, body, "/api/recommendations/r2/approve")
	assert.NotContains(t, body, "r3")
}

func TestNotifyCritical_NothingCritical(t *testing.T) {
	ses := &fakeSES{}
	a, err := New(alertsConfig(), ses)
	require.NoError(t, err)
	low := critical("r1")
	low.Priority = domain.PriorityHigh
	require.NoError(t, a.NotifyCritical(context.Background(), []domain.Recommendation{low}))
	assert.Empty(t, ses.inputs)
}

func TestNotifyCritical_DryRun(t *testing.T) {
	a, err := New(config.AlertsConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, a.NotifyCritical(context.Background(), []domain.Recommendation{critical("r1")}))
}

func TestNotifyCritical_SendError(t *testing.T) {
	ses := &fakeSES{err: errors.New("throttled")}
	a, err := New(alertsConfig(), ses)
	require.NoError(t, err)
	err = a.NotifyCritical(context.Background(), []domain.Recommendation{critical("r1")})
	assert.ErrorContains(t, err, "throttled")
}

func TestCustomTemplates(t *testing.T) {
	cfg := alertsConfig()
	cfg.SubjectTemplate = "{{ count }} urgent"
	cfg.BodyTemplate = "{% for r in recommendations %}{{ r.entity_id }};{% endfor %}"
	a, err := New(cfg, nil)
	require.NoError(t, err)

	subject, body, err := a.Render([]domain.Recommendation{critical("a"), critical("b")})
	require.NoError(t, err)
	assert.Equal(t, "2 urgent", subject)
	assert.Equal(t, "k-a;k-b;", body)

	cfg.BodyTemplate = "{% for r in recommendations %}"
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
