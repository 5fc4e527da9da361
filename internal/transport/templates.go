package transport

import (
	"fmt"

	"github.com/osteele/liquid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

type messageSource struct {
	subject string
	body    string
}

var defaultSources = map[enums.CadenceEventKind]messageSource{
	enums.CadenceKindEmailD1: {
		subject: `Following up on {{ proposal_title }}`,
		body: `Hi {{ first_name | default: "there" }},

I wanted to make sure "{{ proposal_title }}" reached you.{% if proposal_url %} You can review it here: {{ proposal_url }}{% endif %}

Happy to answer any questions.

{{ sender_name }}`,
	},
	enums.CadenceKindEmailD3: {
		subject: `Any questions about {{ proposal_title }}?`,
		body: `Hi {{ first_name | default: "there" }},

Checking in on "{{ proposal_title }}". If anything in it needs adjusting, just reply and I will take care of it.{% if proposal_url %}

{{ proposal_url }}{% endif %}

{{ sender_name }}`,
	},
	enums.CadenceKindCallD7: {
		subject: `Call {{ contact_name }} about {{ proposal_title }}`,
		body: `Call {{ contact_name }}{% if company %} at {{ company }}{% endif %}{% if phone %} ({{ phone }}){% endif %}.
- Confirm they received "{{ proposal_title }}" a week ago.
- Ask what is blocking a decision and who else is involved.
- Offer to walk through the proposal together.`,
	},
	enums.CadenceKindEmailD14SoftClose: {
		subject: `Should I close the file on {{ proposal_title }}?`,
		body: `Hi {{ first_name | default: "there" }},

I have not heard back about "{{ proposal_title }}", so I will assume the timing is not right and stop following up.
If that changes, reply to this email and we can pick it up again.{% if proposal_url %}

{{ proposal_url }}{% endif %}

{{ sender_name }}`,
	},
}

// Message is a rendered subject and plain-text body.
type Message struct {
	Subject string
	Body    string
}

type compiled struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Templates renders the per-step copy with liquid.
type Templates struct {
	senderName string
	byKind     map[enums.CadenceEventKind]compiled
}

// NewTemplates parses the built-in step templates once.
func NewTemplates(senderName string) (*Templates, error) {
	engine := liquid.NewEngine()
	byKind := make(map[enums.CadenceEventKind]compiled, len(defaultSources))
	for kind, src := range defaultSources {
		subject, err := engine.ParseString(src.subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		body, err := engine.ParseString(src.body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
		byKind[kind] = compiled{subject: subject, body: body}
	}
	return &Templates{senderName: senderName, byKind: byKind}, nil
}

// Render produces the message for the delivery's step.
func (t *Templates) Render(delivery Delivery) (Message, error) {
	tpl, ok := t.byKind[delivery.Event.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for kind %q", delivery.Event.Kind)
	}
	bindings := t.bindings(delivery)
	subject, err := tpl.subject.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", delivery.Event.Kind, err)
	}
	body, err := tpl.body.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", delivery.Event.Kind, err)
	}
	return Message{Subject: subject, Body: body}, nil
}

// bindings leaves optional values unset so liquid treats them as falsy.
func (t *Templates) bindings(delivery Delivery) liquid.Bindings {
	b := liquid.Bindings{
		"proposal_title": delivery.Proposal.Title,
		"contact_name":   delivery.Contact.DisplayName(),
		"sender_name":    t.senderName,
	}
	if delivery.Contact.FirstName != "" {
		b["first_name"] = delivery.Contact.FirstName
	}
	if delivery.Proposal.PublicURL != nil && *delivery.Proposal.PublicURL != "" {
		b["proposal_url"] = *delivery.Proposal.PublicURL
	}
	if delivery.Contact.Company != nil && *delivery.Contact.Company != "" {
		b["company"] = *delivery.Contact.Company
	}
	if delivery.Contact.Phone != nil && *delivery.Contact.Phone != "" {
		b["phone"] = *delivery.Contact.Phone
	}
	return b
}
