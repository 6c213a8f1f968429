package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadDispatchesOnAction(t *testing.T) {
	removedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	raw, err := EncodePayload(RemovePayload{ItemID: "item-7", RemovedAt: removedAt})
	require.NoError(t, err)

	p, err := DecodePayload(ActionRemove, raw)
	require.NoError(t, err)

	remove, ok := p.(RemovePayload)
	require.True(t, ok, "expected RemovePayload, got %T", p)
	assert.Equal(t, "item-7", remove.ItemID)
	assert.True(t, removedAt.Equal(remove.RemovedAt))
}

func TestDecodePayloadUnknownAction(t *testing.T) {
	_, err := DecodePayload(Action("archive"), []byte(`{}`))
	assert.Error(t, err)
}

func TestEncodePayloadRejectsNil(t *testing.T) {
	_, err := EncodePayload(nil)
	assert.Error(t, err)
}

func TestMutationRequestPayload(t *testing.T) {
	req := MutationRequest{
		Action: ActionAdd,
		Data:   []byte(`{"item":{"id":"a1","name":"Milk","expiry_date":"2026-03-04","quantity":6}}`),
	}

	p, err := req.Payload()
	require.NoError(t, err)

	add, ok := p.(AddPayload)
	require.True(t, ok)
	assert.Equal(t, ActionAdd, add.Action())
	assert.Equal(t, "Milk", add.Item.Name)
	assert.Equal(t, 6, add.Item.Quantity)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
}
