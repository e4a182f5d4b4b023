package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bones-project/bones/internal/bn"
)

func mustCreateEvent(t *testing.T) Event {
	t.Helper()
	data, err := json.Marshal(CreatePayload{
		Title:   "First task",
		Kind:    KindTask,
		Urgency: UrgencyDefault,
		Labels:  []string{},
	})
	require.NoError(t, err)
	return Event{
		WallTSUs: 1000,
		Agent:    bn.AgentID("agent-alice"),
		ITC:      "itc:v1:00",
		Parents:  nil,
		Type:     TypeCreate,
		ItemID:   bn.ItemID("bn-a"),
		Data:     data,
	}
}

func TestSeal_PopulatesHash(t *testing.T) {
	e := mustCreateEvent(t)
	sealed, err := Seal(e)
	require.NoError(t, err)
	require.True(t, sealed.Hash.Valid())
}

func TestSeal_SameLogicalPayloadSameHash(t *testing.T) {
	e := mustCreateEvent(t)
	s1, err := Seal(e)
	require.NoError(t, err)
	s2, err := Seal(e)
	require.NoError(t, err)
	require.Equal(t, s1.Hash, s2.Hash)
}

func TestSeal_FieldEditChangesHash(t *testing.T) {
	e := mustCreateEvent(t)
	s1, err := Seal(e)
	require.NoError(t, err)

	e.WallTSUs = 1001
	s2, err := Seal(e)
	require.NoError(t, err)

	require.NotEqual(t, s1.Hash, s2.Hash)
}

func TestSeal_UnknownEventTypeRejected(t *testing.T) {
	e := mustCreateEvent(t)
	e.Type = Type("item.bogus")
	_, err := Seal(e)
	require.Error(t, err)
	var target *UnknownEventTypeError
	require.ErrorAs(t, err, &target)
}

func TestSeal_MalformedPayloadRejected(t *testing.T) {
	e := mustCreateEvent(t)
	e.Data = json.RawMessage(`{"title":""}`)
	_, err := Seal(e)
	require.Error(t, err)
	var target *InvalidPayloadError
	require.ErrorAs(t, err, &target)
}

func TestVerify_DetectsTamperedField(t *testing.T) {
	e := mustCreateEvent(t)
	sealed, err := Seal(e)
	require.NoError(t, err)

	sealed.Agent = bn.AgentID("agent-mallory")
	err = Verify(sealed)
	require.Error(t, err)
	var target *HashMismatchError
	require.ErrorAs(t, err, &target)
}

func TestEncodeDecodeLine_RoundTrip(t *testing.T) {
	e := mustCreateEvent(t)
	sealed, err := Seal(e)
	require.NoError(t, err)

	line, err := EncodeLine(sealed)
	require.NoError(t, err)

	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	require.Equal(t, sealed.WallTSUs, decoded.WallTSUs)
	require.Equal(t, sealed.Agent, decoded.Agent)
	require.Equal(t, sealed.ItemID, decoded.ItemID)
	require.Equal(t, sealed.Type, decoded.Type)
	require.Equal(t, sealed.Hash, decoded.Hash)
	require.NoError(t, Verify(decoded))
}

func TestDecodeLine_WrongFieldCount(t *testing.T) {
	_, err := DecodeLine("a\tb\tc")
	require.Error(t, err)
}

func TestDecodeLine_UnknownEventType(t *testing.T) {
	e := mustCreateEvent(t)
	e.Type = Type("item.bogus")
	e.Hash = bn.EventHash("blake3:00")
	line, err := EncodeLine(e)
	require.NoError(t, err)

	_, err = DecodeLine(line)
	require.Error(t, err)
}

func TestValidatePayload_LabelsUpdate(t *testing.T) {
	val, err := json.Marshal(LabelUpdateValue{Action: LabelAdd, Label: "urgent-fix"})
	require.NoError(t, err)
	data, err := json.Marshal(UpdatePayload{Field: "labels", Value: val})
	require.NoError(t, err)
	require.NoError(t, ValidatePayload(TypeUpdate, data))
}

func TestValidatePayload_RejectsUnknownField(t *testing.T) {
	data, err := json.Marshal(UpdatePayload{Field: "bogus", Value: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	require.Error(t, ValidatePayload(TypeUpdate, data))
}

func TestMigrateEvent_CurrentVersionIsIdentity(t *testing.T) {
	e := mustCreateEvent(t)
	migrated, err := MigrateEvent(e, CurrentFormatVersion)
	require.NoError(t, err)
	require.Equal(t, e, migrated)
}

func TestMigrateEvent_RejectsNewerVersion(t *testing.T) {
	e := mustCreateEvent(t)
	_, err := MigrateEvent(e, CurrentFormatVersion+1)
	require.Error(t, err)
}
