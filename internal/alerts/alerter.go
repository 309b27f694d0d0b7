// Package alerts notifies operators, by email or webhook, when a cycle
// produces critical recommendations, which autopilot never approves.
package alerts

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

// SESAPI is the part of the SES v2 client the alerter uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

const defaultSubject = `[bidguard] {{ count }} critical recommendation{% if count != 1 %}s{% endif %} awaiting review`

const defaultBody = `Critical recommendations
========================
{% for r in recommendations %}
{{ r.entity_type }} {{ r.entity_id }}{% if r.entity_name != "" %} ({{ r.entity_name }}){% endif %}
  {{ r.adjustment_type }}: {{ r.current_value }} -> {{ r.recommended_value }} ({{ r.adjustment_percentage }}%)
  confidence {{ r.confidence }}, rules {{ r.rules }}
  {{ r.reason }}
  approve: POST /api/recommendations/{{ r.id }}/approve
{% endfor %}
---
Critical recommendations are never applied by autopilot.
`

// Alerter renders and sends critical-recommendation emails.
type Alerter struct {
	client  SESAPI
	from    string
	to      []string
	subject *liquid.Template
	body    *liquid.Template
}

// New parses the configured templates. A nil client or empty recipient
// list puts the alerter in dry-run mode: alerts are logged, not sent.
func New(cfg config.AlertsConfig, client SESAPI) (*Alerter, error) {
	engine := liquid.NewEngine()
	subj, body := cfg.SubjectTemplate, cfg.BodyTemplate
	if subj == "" {
		subj = defaultSubject
	}
	if body == "" {
		body = defaultBody
	}
	st, err := engine.ParseString(subj)
	if err != nil {
		return nil, fmt.Errorf("%w: alerts.subject_template: %v", domain.ErrConfiguration, err)
	}
	bt, err := engine.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: alerts.body_template: %v", domain.ErrConfiguration, err)
	}
	return &Alerter{client: client, from: cfg.From, to: cfg.To, subject: st, body: bt}, nil
}

// Render returns the subject and plain-text body for recs.
func (a *Alerter) Render(recs []domain.Recommendation) (string, string, error) {
	bindings := bind(recs)
	subject, err := a.subject.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err := a.body.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(subject), body, nil
}

// NotifyCritical sends one email listing every critical recommendation in
// recs. Other priorities are ignored.
func (a *Alerter) NotifyCritical(ctx context.Context, recs []domain.Recommendation) error {
	critical := filterCritical(recs)
	if len(critical) == 0 {
		return nil
	}

	subject, body, err := a.Render(critical)
	if err != nil {
		return err
	}
	if a.client == nil || len(a.to) == 0 {
		log.Printf("[alerter] would send: %s", subject)
		return nil
	}

	_, err = a.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(a.from),
		Destination:      &types.Destination{ToAddresses: a.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("kind"), Value: aws.String("critical_recommendations")},
		},
	})
	if err != nil {
		log.Printf("[alerter] send error: %v (subject: %s)", err, subject)
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

func filterCritical(recs []domain.Recommendation) []domain.Recommendation {
	var out []domain.Recommendation
	for _, r := range recs {
		if r.Priority == domain.PriorityCritical {
			out = append(out, r)
		}
	}
	return out
}

func bind(recs []domain.Recommendation) map[string]any {
	items := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		rules := make([]string, len(r.RulesTriggered))
		for i, id := range r.RulesTriggered {
			rules[i] = string(id)
		}
		items = append(items, map[string]any{
			"id":                    r.ID,
			"entity_type":           string(r.EntityType),
			"entity_id":             r.EntityID,
			"entity_name":           r.EntityName,
			"adjustment_type":       string(r.AdjustmentType),
			"current_value":         fmt.Sprintf("%.2f", r.CurrentValue),
			"recommended_value":     fmt.Sprintf("%.2f", r.RecommendedValue),
			"adjustment_percentage": fmt.Sprintf("%+.1f", r.AdjustmentPercentage),
			"confidence":            fmt.Sprintf("%.2f", r.Confidence),
			"priority":              string(r.Priority),
			"reason":                r.Reason,
			"rules":                 strings.Join(rules, ", "),
		})
	}
	return map[string]any{"count": len(recs), "recommendations": items}
}
