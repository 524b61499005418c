package orchestration

import (
	"context"
	"errors"
	"testing"

	"ExpeditionFlow/internal/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAWBsValidatesBeforeWriting(t *testing.T) {
	h := newHarness(t)
	h.shipment(t, "S1", records.ShipmentNew)
	h.awb(t, records.AWB{ID: "A1", ShipmentID: "S1", Status: records.AWBNew})
	h.awb(t, records.AWB{ID: "A2", ShipmentID: "S1", Status: records.AWBNew})
	h.awb(t, records.AWB{ID: "A3", ShipmentID: "S1", Status: records.AWBGenerated})

	_, err := h.svc.EnqueueAWBs(context.Background(), []AWBRef{
		{ShipmentID: "S1", AWBID: "A1"},
		{ShipmentID: "S2", AWBID: "A2"},
		{ShipmentID: "S1", AWBID: "A3"},
		{ShipmentID: "S1", AWBID: "A9"},
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)

	assert.Equal(t, records.AWBNew, h.getAWB(t, "A1").Status)
	assert.Equal(t, records.AWBNew, h.getAWB(t, "A2").Status)
}

func TestEnqueueAWBsStartsOnePipelinePerShipment(t *testing.T) {
	h := newHarness(t)
	h.shipment(t, "S1", records.ShipmentNew)
	h.shipment(t, "S2", records.ShipmentAWBGenerationFailed)
	h.awb(t, records.AWB{ID: "A1", ShipmentID: "S1", Status: records.AWBNew})
	h.awb(t, records.AWB{ID: "A2", ShipmentID: "S1", Status: records.AWBNew})
	h.awb(t, records.AWB{ID: "B1", ShipmentID: "S2", Status: records.AWBFailed, LastError: "city not found"})

	res, err := h.svc.EnqueueAWBs(context.Background(), []AWBRef{
		{ShipmentID: "S1", AWBID: "A1"},
		{ShipmentID: "S1", AWBID: "A2"},
		{ShipmentID: "S2", AWBID: "B1"},
		{ShipmentID: "S1", AWBID: "A1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 2, res.Shipments)
	require.Len(t, res.RunIDs, 2)
	h.waitRuns(t, res.RunIDs)

	for _, id := range []string{"A1", "A2", "B1"} {
		awb := h.getAWB(t, id)
		assert.Equal(t, records.AWBGenerated, awb.Status, id)
		assert.Empty(t, awb.LastError, id)
	}
	assert.Equal(t, records.ShipmentAWBGenerated, h.getShipment(t, "S1").Status)
	assert.Equal(t, records.ShipmentAWBGenerated, h.getShipment(t, "S2").Status)
}

func TestEnqueueStatusUpdatesNeedTracking(t *testing.T) {
	h := newHarness(t)
	h.awb(t, records.AWB{ID: "A1", ShipmentID: "S1", Status: records.AWBQueued})

	_, err := h.svc.EnqueueStatusUpdates(context.Background(), []string{"A1", "A2"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)

	_, err = h.svc.EnqueueStatusUpdates(context.Background(), nil)
	assert.True(t, errors.As(err, &verr))
}

func TestRunStatusIsReported(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.TriggerRename(context.Background(), RenamePayload{})
	require.NoError(t, err)
	h.waitRuns(t, []string{id})

	run, err := h.svc.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, TaskRenameSigned, run.Task)
}
