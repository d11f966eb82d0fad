package call

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// Document layout shared by both peers:
//
//	calls/{id}                      offer, answer, callerHangup, calleeHangup, createdAt
//	calls/{id}/offerCandidates/{n}  written by the caller
//	calls/{id}/answerCandidates/{n} written by the callee
const (
	CallsCollection  = "calls"
	OfferCandidates  = "offerCandidates"
	AnswerCandidates = "answerCandidates"

	FieldOffer        = "offer"
	FieldAnswer       = "answer"
	FieldCreatedAt    = "createdAt"
	FieldCallerHangup = "callerHangup"
	FieldCalleeHangup = "calleeHangup"
)

func CallRef(id domain.CallID) core.DocumentRef {
	return core.DocumentRef{Collection: CallsCollection, ID: string(id)}
}

// ownership per role
func candidatesOf(role domain.Role) string {
	if role == domain.RoleCaller {
		return OfferCandidates
	}
	return AnswerCandidates
}

func peerCandidatesOf(role domain.Role) string {
	if role == domain.RoleCaller {
		return AnswerCandidates
	}
	return OfferCandidates
}

func hangupFieldOf(role domain.Role) string {
	if role == domain.RoleCaller {
		return FieldCallerHangup
	}
	return FieldCalleeHangup
}

func peerHangupFieldOf(role domain.Role) string {
	if role == domain.RoleCaller {
		return FieldCalleeHangup
	}
	return FieldCallerHangup
}

// toFields turns a typed value into its JSON object form.
func toFields(v any) (core.Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out core.Fields
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromValue decodes a field value (nested JSON object) into out.
func fromValue(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// descriptionField reads an offer/answer field. ok is false when the field is absent.
func descriptionField(fields core.Fields, key string, want domain.DescriptionType) (domain.Description, bool, error) {
	raw, present := fields[key]
	if !present || raw == nil {
		return domain.Description{}, false, nil
	}
	var d domain.Description
	if err := fromValue(raw, &d); err != nil {
		return domain.Description{}, true, fmt.Errorf("%w: field %s: %w", domain.ErrInvalidRemoteDescription, key, err)
	}
	if err := d.Validate(want); err != nil {
		return domain.Description{}, true, fmt.Errorf("field %s: %w", key, err)
	}
	return d, true, nil
}

func candidateFromFields(fields core.Fields) (domain.Candidate, error) {
	var c domain.Candidate
	if err := fromValue(fields, &c); err != nil {
		return domain.Candidate{}, err
	}
	return c, nil
}

func boolField(fields core.Fields, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

// Summary is the public view of a call document.
type Summary struct {
	ID           domain.CallID `json:"id"`
	CreatedAt    string        `json:"createdAt,omitempty"`
	HasOffer     bool          `json:"hasOffer"`
	HasAnswer    bool          `json:"hasAnswer"`
	CallerHangup bool          `json:"callerHangup"`
	CalleeHangup bool          `json:"calleeHangup"`
}

func Summarize(id domain.CallID, fields core.Fields) Summary {
	created, _ := fields[FieldCreatedAt].(string)
	return Summary{
		ID:           id,
		CreatedAt:    created,
		HasOffer:     fields[FieldOffer] != nil,
		HasAnswer:    fields[FieldAnswer] != nil,
		CallerHangup: boolField(fields, FieldCallerHangup),
		CalleeHangup: boolField(fields, FieldCalleeHangup),
	}
}
