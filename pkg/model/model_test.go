package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryLevel_Available(t *testing.T) {
	l := InventoryLevel{Fulfillable: 7, InboundWorking: 2, InboundShipped: 1, InboundReceiving: 0, Reserved: 3}
	assert.Equal(t, 7, l.Available())
	assert.True(t, l.InStock())

	neg := InventoryLevel{Fulfillable: 1, Reserved: 4}
	assert.Equal(t, -3, neg.Available(), "negative availability is reported as-is")
	assert.False(t, neg.InStock())

	assert.False(t, InventoryLevel{}.InStock())
}

func TestProductPatch_DescriptiveFields(t *testing.T) {
	assert.False(t, ProductPatch{ASIN: "B0001"}.HasDescriptiveField())
	assert.True(t, ProductPatch{ASIN: "B0001"}.Empty())

	p := ProductPatch{ASIN: "B0001", InventoryQuantity: Ptr(3)}
	assert.False(t, p.HasDescriptiveField())
	assert.False(t, p.Empty())

	p.Title = Ptr("Cutting board")
	assert.True(t, p.HasDescriptiveField())
}

func TestSyncProgress_CloneAndCounters(t *testing.T) {
	p := NewSyncProgress("amazon-catalog", time.Now())
	p.Total = 10
	p.Processed = 4
	p.Failed = append(p.Failed, FailedItem{ID: "B1"})

	c := p.Clone()
	c.Failed[0].ID = "changed"

	assert.Equal(t, "B1", p.Failed[0].ID)
	assert.Equal(t, 6, p.Remaining())
	assert.InDelta(t, 40.0, p.Percent(), 0.001)
	assert.False(t, p.Terminal())

	p.Status = SyncCompleted
	assert.True(t, p.Terminal())
}

func TestComputeEconomics_UnknownCosts(t *testing.T) {
	e := ComputeEconomics(decimal.NewFromInt(100), 2, CostInputs{}, nil)
	assert.Nil(t, e.Profit, "profit stays unknown without cost inputs")
	assert.Nil(t, e.ROI)
	assert.Nil(t, e.ACOS)
}

func TestComputeEconomics_WithCosts(t *testing.T) {
	unit := decimal.NewFromInt(20)
	pct := decimal.NewFromInt(10)
	spend := decimal.NewFromInt(5)

	e := ComputeEconomics(decimal.NewFromInt(100), 2, CostInputs{UnitCost: &unit, VariablePct: &pct}, &spend)

	require.NotNil(t, e.Profit)
	// cogs = 20*2 + 100*10% = 50
	assert.True(t, e.Profit.Equal(decimal.NewFromInt(50)), "profit=%s", e.Profit)
	require.NotNil(t, e.ROI)
	assert.True(t, e.ROI.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, e.ACOS)
	assert.True(t, e.ACOS.Equal(decimal.NewFromInt(5)))
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("marketplace-sync", EventSyncCompleted, uuid.Nil, map[string]int{"processed": 3})
	require.NoError(t, err)
	assert.NotEqual(t, env.ID, env.CorrelationID)
	assert.JSONEq(t, `{"processed":3}`, string(env.Payload))
}
