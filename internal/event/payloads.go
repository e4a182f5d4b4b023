package event

import (
	"encoding/json"
	"fmt"
)

// Kind is an item's LWW-registered category.
type Kind string

const (
	KindTask Kind = "task"
	KindGoal Kind = "goal"
	KindBug  Kind = "bug"
)

// Size is an item's LWW-registered t-shirt size estimate.
type Size string

const (
	SizeXXS Size = "xxs"
	SizeXS  Size = "xs"
	SizeS   Size = "s"
	SizeM   Size = "m"
	SizeL   Size = "l"
	SizeXL  Size = "xl"
	SizeXXL Size = "xxl"
)

// Urgency is an item's LWW-registered priority hint.
type Urgency string

const (
	UrgencyUrgent  Urgency = "urgent"
	UrgencyDefault Urgency = "default"
	UrgencyPunt    Urgency = "punt"
)

// Phase is the lifecycle half of an item's epoch-phase pair, ordered
// open < doing < done < archived.
type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseDoing    Phase = "doing"
	PhaseDone     Phase = "done"
	PhaseArchived Phase = "archived"
)

// phaseRank gives Phase its total order for epoch-phase merge.
var phaseRank = map[Phase]int{PhaseOpen: 0, PhaseDoing: 1, PhaseDone: 2, PhaseArchived: 3}

// Rank returns p's position in open<doing<done<archived, or -1 if p is
// not a known phase.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

func (p Phase) valid() bool { return p.Rank() >= 0 }

// LinkType is the relation an item.link/item.unlink event establishes.
type LinkType string

const (
	LinkBlocks    LinkType = "blocks"
	LinkBlockedBy LinkType = "blocked_by"
	LinkRelatesTo LinkType = "related_to"
)

func (l LinkType) valid() bool {
	switch l {
	case LinkBlocks, LinkBlockedBy, LinkRelatesTo:
		return true
	}
	return false
}

// LabelAction is the verb carried by an item.update{field:"labels"} payload.
type LabelAction string

const (
	LabelAdd    LabelAction = "add"
	LabelRemove LabelAction = "remove"
)

// AssignAction is the verb carried by an item.assign payload.
type AssignAction string

const (
	AssignAssign   AssignAction = "assign"
	AssignUnassign AssignAction = "unassign"
)

// CreatePayload is the item.create event's data.
type CreatePayload struct {
	Title       string   `json:"title"`
	Kind        Kind     `json:"kind"`
	Size        Size     `json:"size,omitempty"`
	Urgency     Urgency  `json:"urgency"`
	Labels      []string `json:"labels"`
	Parent      string   `json:"parent,omitempty"`
	Causation   string   `json:"causation,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (p *CreatePayload) validate() error {
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch p.Kind {
	case KindTask, KindGoal, KindBug:
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	if p.Size != "" {
		switch p.Size {
		case SizeXXS, SizeXS, SizeS, SizeM, SizeL, SizeXL, SizeXXL:
		default:
			return fmt.Errorf("unknown size %q", p.Size)
		}
	}
	switch p.Urgency {
	case UrgencyUrgent, UrgencyDefault, UrgencyPunt:
	default:
		return fmt.Errorf("unknown urgency %q", p.Urgency)
	}
	return nil
}

// LabelUpdateValue is the value shape of an item.update event whose
// field is "labels".
type LabelUpdateValue struct {
	Action LabelAction `json:"action"`
	Label  string      `json:"label"`
}

// UpdatePayload is the item.update event's data: a single LWW field/value
// write, or (field=="labels") an OR-Set add/remove.
type UpdatePayload struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

var lwwFields = map[string]bool{
	"title": true, "description": true, "kind": true, "size": true,
	"urgency": true, "parent_id": true, "labels": true,
}

func (p *UpdatePayload) validate() error {
	if !lwwFields[p.Field] {
		return fmt.Errorf("unknown update field %q", p.Field)
	}
	if p.Field == "labels" {
		var v LabelUpdateValue
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return fmt.Errorf("labels value: %w", err)
		}
		if v.Action != LabelAdd && v.Action != LabelRemove {
			return fmt.Errorf("unknown label action %q", v.Action)
		}
		if v.Label == "" {
			return fmt.Errorf("label is required")
		}
	}
	return nil
}

// MovePayload is the item.move event's data: a phase transition.
type MovePayload struct {
	State  Phase  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func (p *MovePayload) validate() error {
	if !p.State.valid() {
		return fmt.Errorf("unknown state %q", p.State)
	}
	return nil
}

// AssignPayload is the item.assign event's data.
type AssignPayload struct {
	Agent  string       `json:"agent"`
	Action AssignAction `json:"action"`
}

func (p *AssignPayload) validate() error {
	if p.Agent == "" {
		return fmt.Errorf("agent is required")
	}
	if p.Action != AssignAssign && p.Action != AssignUnassign {
		return fmt.Errorf("unknown action %q", p.Action)
	}
	return nil
}

// CommentPayload is the item.comment event's data.
type CommentPayload struct {
	Body string `json:"body"`
}

func (p *CommentPayload) validate() error {
	if p.Body == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// LinkPayload is shared by item.link and item.unlink events.
type LinkPayload struct {
	Target   string   `json:"target"`
	LinkType LinkType `json:"link_type"`
}

func (p *LinkPayload) validate() error {
	if p.Target == "" {
		return fmt.Errorf("target is required")
	}
	if !p.LinkType.valid() {
		return fmt.Errorf("unknown link_type %q", p.LinkType)
	}
	return nil
}

// DeletePayload is the item.delete event's data.
type DeletePayload struct {
	Reason string `json:"reason,omitempty"`
}

func (p *DeletePayload) validate() error { return nil }

// CompactPayload is the item.compact event's data: the deterministic
// replacement summary produced by the compaction worker pool.
type CompactPayload struct {
	Summary string `json:"summary"`
}

func (p *CompactPayload) validate() error {
	if p.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

// SnapshotPayload is the item.snapshot event's data: a packaged final
// CRDT state plus the hashes of the events it replaces.
type SnapshotPayload struct {
	StateBlob      json.RawMessage `json:"state_blob"`
	ReplacedHashes []string        `json:"replaced_hashes"`
	// RedactedHashes carries forward the redaction targets among the
	// replaced events, so a compacted history still proves what was
	// scrubbed.
	RedactedHashes []string `json:"redacted_hashes,omitempty"`
}

func (p *SnapshotPayload) validate() error {
	if len(p.StateBlob) == 0 {
		return fmt.Errorf("state_blob is required")
	}
	return nil
}

// RedactPayload is the item.redact event's data.
type RedactPayload struct {
	TargetEventHash string `json:"target_event_hash"`
	Reason          string `json:"reason"`
	RedactedBy      string `json:"redacted_by"`
}

func (p *RedactPayload) validate() error {
	if p.TargetEventHash == "" {
		return fmt.Errorf("target_event_hash is required")
	}
	if p.RedactedBy == "" {
		return fmt.Errorf("redacted_by is required")
	}
	return nil
}

// payloadValidator is satisfied by every *Payload type above.
type payloadValidator interface {
	validate() error
}

// ValidatePayload decodes data against the schema for typ and reports a
// malformed-payload error (wrapped in *InvalidPayloadError) if it does not
// conform to that type's schema.
func ValidatePayload(typ Type, data json.RawMessage) error {
	p, err := decodePayload(typ, data)
	if err != nil {
		return &InvalidPayloadError{Type: typ, Err: err}
	}
	if err := p.validate(); err != nil {
		return &InvalidPayloadError{Type: typ, Err: err}
	}
	return nil
}

func decodePayload(typ Type, data json.RawMessage) (payloadValidator, error) {
	var p payloadValidator
	switch typ {
	case TypeCreate:
		p = &CreatePayload{}
	case TypeUpdate:
		p = &UpdatePayload{}
	case TypeMove:
		p = &MovePayload{}
	case TypeAssign:
		p = &AssignPayload{}
	case TypeComment:
		p = &CommentPayload{}
	case TypeLink, TypeUnlink:
		p = &LinkPayload{}
	case TypeDelete:
		p = &DeletePayload{}
	case TypeCompact:
		p = &CompactPayload{}
	case TypeSnapshot:
		p = &SnapshotPayload{}
	case TypeRedact:
		p = &RedactPayload{}
	default:
		return nil, &UnknownEventTypeError{Type: typ}
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
