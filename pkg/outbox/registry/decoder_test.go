package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventProposalStatusChanged, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"status":"negotiation"}`)
	output, err := reg.Decode(enums.EventProposalStatusChanged, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["status"] != "negotiation" {
		t.Fatalf("unexpected output %+v", output)
	}
}

func TestDecoderRegistryUnknownVersion(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventProposalSent, 1, func(payload json.RawMessage) (interface{}, error) {
		return string(payload), nil
	})
	if _, err := reg.Decode(enums.EventProposalSent, 2, json.RawMessage(`{}`)); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected ErrNoDecoder for unregistered version, got %v", err)
	}
}

func TestJSONDecoderReturnsFreshValues(t *testing.T) {
	type sent struct {
		ProposalID string `json:"proposal_id"`
	}
	decode := JSONDecoder(func() interface{} { return &sent{} })

	first, err := decode(json.RawMessage(`{"proposal_id":"a"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := decode(json.RawMessage(`{"proposal_id":"b"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.(*sent).ProposalID != "a" || second.(*sent).ProposalID != "b" {
		t.Fatalf("decoder reused its target: %+v %+v", first, second)
	}
	if _, err := decode(json.RawMessage(`{"proposal_id":`)); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
