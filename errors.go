package bones

import (
	"errors"
	"fmt"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/codec"
	"github.com/bones-project/bones/internal/event"
	"github.com/bones-project/bones/internal/graph"
	"github.com/bones-project/bones/internal/projection"
	"github.com/bones-project/bones/internal/shard"
)

// Code is a stable numeric error code for upstream reporting. Codes
// never change meaning across releases; new conditions get new codes.
type Code int

const (
	CodeNotInitialized    Code = 1001
	CodeConfigParse       Code = 1002
	CodeModelMissing      Code = 1003
	CodeItemNotFound      Code = 2001
	CodeInvalidTransition Code = 2002
	CodeCycleDetected     Code = 2003
	CodeAmbiguousID       Code = 2004
	CodeInvalidEnum       Code = 2005
	CodeManifestMismatch  Code = 3001
	CodeHashCollision     Code = 3002
	CodeCorruptProjection Code = 3003
	CodeEventWriteFailed  Code = 3004
	CodeLockContention    Code = 3005
	CodeFTSMissing        Code = 3006
	CodeSemanticModel     Code = 3007
	CodeInternal          Code = 9001
)

// String renders the exit-code form, e.g. "E2003".
func (c Code) String() string { return fmt.Sprintf("E%d", int(c)) }

// NotInitializedError is returned when the root has no .bones
// directory.
type NotInitializedError struct {
	Root string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("bones: %s is not a bones project (no .bones directory)", e.Root)
}

// ItemNotFoundError is returned when an operation names an item the
// projection does not know.
type ItemNotFoundError struct {
	ItemID bn.ItemID
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("bones: no such item %s", e.ItemID)
}

// InvalidTransitionError is returned for a phase move the lifecycle
// does not allow.
type InvalidTransitionError struct {
	ItemID   bn.ItemID
	From, To event.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("bones: %s cannot move %s -> %s", e.ItemID, e.From, e.To)
}

// AmbiguousIDError is returned when an ID prefix matches more than one
// item.
type AmbiguousIDError struct {
	Prefix  string
	Matches []bn.ItemID
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("bones: %q matches %d items; give more characters", e.Prefix, len(e.Matches))
}

// DuplicateLinkError is returned when a link that already exists is
// added again.
type DuplicateLinkError struct {
	ItemID, Target bn.ItemID
	LinkType       event.LinkType
}

func (e *DuplicateLinkError) Error() string {
	return fmt.Sprintf("bones: %s already has a %s link to %s", e.ItemID, e.LinkType, e.Target)
}

// HashCollisionError is returned if two distinct events ever claim the
// same event hash.
type HashCollisionError struct {
	Hash bn.EventHash
}

func (e *HashCollisionError) Error() string {
	return fmt.Sprintf("bones: event hash collision on %s", e.Hash)
}

// CodeOf maps any error produced by this module to its stable code.
// Unknown errors map to CodeInternal.
func CodeOf(err error) Code {
	var (
		notInit    *NotInitializedError
		notFound   *ItemNotFoundError
		transition *InvalidTransitionError
		ambiguous  *AmbiguousIDError
		cycle      *graph.CycleError
		collision  *HashCollisionError
		payload    *event.InvalidPayloadError
		unknownTyp *event.UnknownEventTypeError
		hashMis    *event.HashMismatchError
		lockOut    *shard.LockTimeoutError
		sealed     *shard.SealedShardMutationError
		corrupt    *projection.CorruptProjectionError
		missing    *projection.MissingProjectionError
		badLine    *shard.InvalidLineError
		badField   *codec.InvalidFieldError
		badCount   *codec.WrongFieldCountError
	)
	switch {
	case errors.As(err, &notInit):
		return CodeNotInitialized
	case errors.As(err, &notFound):
		return CodeItemNotFound
	case errors.As(err, &transition):
		return CodeInvalidTransition
	case errors.As(err, &cycle):
		return CodeCycleDetected
	case errors.As(err, &ambiguous):
		return CodeAmbiguousID
	case errors.As(err, &collision):
		return CodeHashCollision
	case errors.As(err, &payload), errors.As(err, &unknownTyp):
		return CodeInvalidEnum
	case errors.As(err, &hashMis):
		return CodeManifestMismatch
	case errors.As(err, &lockOut):
		return CodeLockContention
	case errors.As(err, &corrupt), errors.As(err, &missing):
		return CodeCorruptProjection
	case errors.As(err, &sealed), errors.As(err, &badLine),
		errors.As(err, &badField), errors.As(err, &badCount):
		return CodeEventWriteFailed
	default:
		return CodeInternal
	}
}
