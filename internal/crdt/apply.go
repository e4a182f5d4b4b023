package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/itc"
)

// ApplyEvent folds e into state, returning the (possibly new) state. The
// caller passes state=nil for the first event applied to an item;
// ApplyEvent allocates it. e must already be sealed and payload-valid
// (event.Verify/event.ValidatePayload), since ApplyEvent does not
// re-validate. It returns an error when the ITC stamp fails to parse,
// when the first event for an item is neither item.create nor
// item.snapshot, or when the event's data cannot be folded.
func ApplyEvent(state *ItemState, e event.Event) (*ItemState, error) {
	stamp, err := itc.ParseText(e.ITC)
	if err != nil {
		return state, fmt.Errorf("crdt: parsing itc stamp: %w", err)
	}
	tag := NewTag(e.WallTSUs, e.Agent, stamp, e.Hash)

	if state == nil {
		// A compacted item's history starts at its snapshot rather
		// than its create event.
		if e.Type != event.TypeCreate && e.Type != event.TypeSnapshot {
			return nil, &NoSuchItemError{ItemID: e.ItemID}
		}
		state = NewItemState(e.ItemID)
	}
	// A snapshot reproduces the derived timestamps of the history it
	// replaces; advancing updated_at to the snapshot's own wall time
	// would make the compacted item look newly touched.
	if e.Type != event.TypeSnapshot {
		state.touch(e.WallTSUs)
	}

	switch e.Type {
	case event.TypeCreate:
		return state, applyCreate(state, e, tag)
	case event.TypeUpdate:
		return state, applyUpdate(state, e, tag)
	case event.TypeMove:
		return state, applyMove(state, e)
	case event.TypeAssign:
		return state, applyAssign(state, e, stamp)
	case event.TypeComment:
		return state, applyComment(state, e)
	case event.TypeLink:
		return state, applyLink(state, e, stamp, true)
	case event.TypeUnlink:
		return state, applyLink(state, e, stamp, false)
	case event.TypeDelete:
		return state, applyDelete(state, tag)
	case event.TypeCompact:
		// Compaction replaces the granular event history with a summary
		// but must not change the derived state itself; nothing to fold.
		return state, nil
	case event.TypeSnapshot:
		return applySnapshot(state, e, tag)
	case event.TypeRedact:
		// Redaction scrubs projected text (item_comments.body,
		// description) and is audited (C16); it has no field in the
		// work item's own semilattice.
		return state, nil
	default:
		return state, &event.UnknownEventTypeError{Type: e.Type}
	}
}

func applyCreate(state *ItemState, e event.Event, tag Tag) error {
	var p event.CreatePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	state.Created = true
	state.Title = state.Title.Set(p.Title, tag)
	state.Kind = state.Kind.Set(p.Kind, tag)
	state.Urgency = state.Urgency.Set(p.Urgency, tag)
	if p.Size != "" {
		state.Size = state.Size.Set(p.Size, tag)
	}
	if p.Parent != "" {
		state.ParentID = state.ParentID.Set(p.Parent, tag)
	}
	if p.Description != "" {
		state.Description = state.Description.Set(p.Description, tag)
	}
	for _, l := range p.Labels {
		state.Labels.Add(l, e.Hash, tag.ITC)
	}
	return nil
}

func applyUpdate(state *ItemState, e event.Event, tag Tag) error {
	var p event.UpdatePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	switch p.Field {
	case "title":
		var v string
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("title", state.Title.Tag, tag)
		state.Title = state.Title.Set(v, tag)
	case "description":
		var v string
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("description", state.Description.Tag, tag)
		state.Description = state.Description.Set(v, tag)
	case "kind":
		var v event.Kind
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("kind", state.Kind.Tag, tag)
		state.Kind = state.Kind.Set(v, tag)
	case "size":
		var v event.Size
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("size", state.Size.Tag, tag)
		state.Size = state.Size.Set(v, tag)
	case "urgency":
		var v event.Urgency
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("urgency", state.Urgency.Tag, tag)
		state.Urgency = state.Urgency.Set(v, tag)
	case "parent_id":
		var v string
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		state.traceLWW("parent_id", state.ParentID.Tag, tag)
		state.ParentID = state.ParentID.Set(v, tag)
	case "labels":
		var v event.LabelUpdateValue
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return err
		}
		switch v.Action {
		case event.LabelAdd:
			state.Labels.Add(v.Label, e.Hash, tag.ITC)
		case event.LabelRemove:
			state.Labels.Remove(v.Label, e.Hash, tag.ITC)
		}
	default:
		return fmt.Errorf("crdt: unknown update field %q", p.Field)
	}
	return nil
}

func applyMove(state *ItemState, e event.Event) error {
	var p event.MovePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	state.Lifecycle = state.Lifecycle.Move(p.State)
	return nil
}

func applyAssign(state *ItemState, e event.Event, stamp itc.Stamp) error {
	var p event.AssignPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	switch p.Action {
	case event.AssignAssign:
		state.Assignees.Add(p.Agent, e.Hash, stamp)
	case event.AssignUnassign:
		state.Assignees.Remove(p.Agent, e.Hash, stamp)
	}
	return nil
}

func applyComment(state *ItemState, e event.Event) error {
	var p event.CommentPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	state.Comments.Add(e.Hash)
	return nil
}

// applyLink folds an item.link (add=true) or item.unlink (add=false)
// event. A "blocks" link is recorded in the projection's dependency
// table directly from the raw event (C6), not in this item's own
// OR-Sets: this item's blocked_by/related_to sets only reflect links
// filed under this item with those exact link types.
func applyLink(state *ItemState, e event.Event, stamp itc.Stamp, add bool) error {
	var p event.LinkPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return err
	}
	var set *ORSet
	switch p.LinkType {
	case event.LinkBlockedBy:
		set = state.BlockedBy
	case event.LinkRelatesTo:
		set = state.RelatedTo
	case event.LinkBlocks:
		return nil
	default:
		return fmt.Errorf("crdt: unknown link_type %q", p.LinkType)
	}
	if add {
		set.Add(p.Target, e.Hash, stamp)
	} else {
		set.Remove(p.Target, e.Hash, stamp)
	}
	return nil
}

func applyDelete(state *ItemState, tag Tag) error {
	state.Deleted = state.Deleted.Set(true, tag)
	return nil
}

func applySnapshot(state *ItemState, e event.Event, tag Tag) (*ItemState, error) {
	var p event.SnapshotPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return state, err
	}
	decoded, err := DecodeSnapshot(e.ItemID, p.StateBlob, e.Hash, tag)
	if err != nil {
		return state, err
	}
	return Merge(state, decoded), nil
}

// NoSuchItemError is returned by ApplyEvent when the first event seen
// for an item is neither item.create nor item.snapshot.
type NoSuchItemError struct {
	ItemID bn.ItemID
}

func (err *NoSuchItemError) Error() string {
	return fmt.Sprintf("crdt: %s has no item.create event", err.ItemID)
}
