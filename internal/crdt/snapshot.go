package crdt

import (
	"encoding/json"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
)

// snapshotDoc is the JSON-friendly mirror of ItemState packaged into an
// item.snapshot event's state_blob. Registers are
// flattened to their plain values plus the tag fields needed to keep
// participating in future LWW decisions; OR-Set membership is flattened
// to its current element list, re-seeded as adds tagged with the
// snapshot event's own tag so a later concurrent remove can still race
// it fairly.
type snapshotDoc struct {
	Title       string `json:"title"`
	TitleTag    tagDoc `json:"title_tag"`
	Description string `json:"description"`
	DescTag     tagDoc `json:"description_tag"`
	Kind        string `json:"kind"`
	KindTag     tagDoc `json:"kind_tag"`
	Size        string `json:"size"`
	SizeTag     tagDoc `json:"size_tag"`
	Urgency     string `json:"urgency"`
	UrgencyTag  tagDoc `json:"urgency_tag"`
	ParentID    string `json:"parent_id"`
	ParentTag   tagDoc `json:"parent_id_tag"`
	Deleted     bool   `json:"deleted"`
	DeletedTag  tagDoc `json:"deleted_tag"`

	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	BlockedBy []string `json:"blocked_by"`
	RelatedTo []string `json:"related_to"`

	Comments []string `json:"comments"`

	Epoch int    `json:"epoch"`
	Phase string `json:"phase"`

	CreatedAtUs int64 `json:"created_at_us"`
	UpdatedAtUs int64 `json:"updated_at_us"`
}

// tagDoc is the JSON encoding of a Tag: the ITC stamp as text plus the
// scalar tie-breakers.
type tagDoc struct {
	ITC      string     `json:"itc"`
	WallTSUs int64      `json:"wall_ts_us"`
	Agent    bn.AgentID `json:"agent"`
	Hash     bn.EventHash `json:"event_hash"`
}

func encodeTag(t Tag) tagDoc {
	if !t.Valid() {
		return tagDoc{}
	}
	return tagDoc{ITC: t.ITCText(), WallTSUs: t.WallTSUs, Agent: t.Agent, Hash: t.Hash}
}

// EncodeSnapshot packages state as the state_blob payload for an
// item.snapshot event.
func EncodeSnapshot(s *ItemState) (json.RawMessage, error) {
	doc := snapshotDoc{
		Title:       s.Title.Value,
		TitleTag:    encodeTag(s.Title.Tag),
		Description: s.Description.Value,
		DescTag:     encodeTag(s.Description.Tag),
		Kind:        string(s.Kind.Value),
		KindTag:     encodeTag(s.Kind.Tag),
		Size:        string(s.Size.Value),
		SizeTag:     encodeTag(s.Size.Tag),
		Urgency:     string(s.Urgency.Value),
		UrgencyTag:  encodeTag(s.Urgency.Tag),
		ParentID:    s.ParentID.Value,
		ParentTag:   encodeTag(s.ParentID.Tag),
		Deleted:     s.Deleted.Value,
		DeletedTag:  encodeTag(s.Deleted.Tag),
		Labels:      s.Labels.Elements(),
		Assignees:   s.Assignees.Elements(),
		BlockedBy:   s.BlockedBy.Elements(),
		RelatedTo:   s.RelatedTo.Elements(),
		Epoch:       s.Lifecycle.Epoch,
		Phase:       string(s.Lifecycle.Phase),
		CreatedAtUs: s.CreatedAtUs,
		UpdatedAtUs: s.UpdatedAtUs,
	}
	for _, h := range s.Comments.Elements() {
		doc.Comments = append(doc.Comments, string(h))
	}
	return json.Marshal(doc)
}

// DecodeSnapshot rebuilds an ItemState from a snapshot event's
// state_blob, re-tagging each register and set membership with the
// snapshot event's own tag (snapshotTag) so the result can keep
// participating in LWW/OR-Set decisions against events the snapshot
// didn't replace.
func DecodeSnapshot(id bn.ItemID, blob json.RawMessage, snapshotHash bn.EventHash, snapshotTag Tag) (*ItemState, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	s := NewItemState(id)
	s.Created = true
	s.Title = LWWRegister[string]{Value: doc.Title, Tag: decodeTagOrFallback(doc.TitleTag, snapshotTag)}
	s.Description = LWWRegister[string]{Value: doc.Description, Tag: decodeTagOrFallback(doc.DescTag, snapshotTag)}
	s.Kind = LWWRegister[event.Kind]{Value: event.Kind(doc.Kind), Tag: decodeTagOrFallback(doc.KindTag, snapshotTag)}
	s.Size = LWWRegister[event.Size]{Value: event.Size(doc.Size), Tag: decodeTagOrFallback(doc.SizeTag, snapshotTag)}
	s.Urgency = LWWRegister[event.Urgency]{Value: event.Urgency(doc.Urgency), Tag: decodeTagOrFallback(doc.UrgencyTag, snapshotTag)}
	s.ParentID = LWWRegister[string]{Value: doc.ParentID, Tag: decodeTagOrFallback(doc.ParentTag, snapshotTag)}
	s.Deleted = LWWRegister[bool]{Value: doc.Deleted, Tag: decodeTagOrFallback(doc.DeletedTag, snapshotTag)}

	for _, l := range doc.Labels {
		s.Labels.Add(l, snapshotHash, snapshotTag.ITC)
	}
	for _, a := range doc.Assignees {
		s.Assignees.Add(a, snapshotHash, snapshotTag.ITC)
	}
	for _, b := range doc.BlockedBy {
		s.BlockedBy.Add(b, snapshotHash, snapshotTag.ITC)
	}
	for _, r := range doc.RelatedTo {
		s.RelatedTo.Add(r, snapshotHash, snapshotTag.ITC)
	}
	for _, c := range doc.Comments {
		s.Comments.Add(bn.EventHash(c))
	}
	s.Lifecycle = EpochPhase{Epoch: doc.Epoch, Phase: event.Phase(doc.Phase)}
	s.CreatedAtUs = doc.CreatedAtUs
	s.UpdatedAtUs = doc.UpdatedAtUs
	return s, nil
}

func decodeTagOrFallback(d tagDoc, fallback Tag) Tag {
	if d.ITC == "" {
		return fallback
	}
	stamp, err := itc.ParseText(d.ITC)
	if err != nil {
		return fallback
	}
	return NewTag(d.WallTSUs, d.Agent, stamp, d.Hash)
}
