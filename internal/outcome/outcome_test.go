package outcome

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/ledger"
)

func TestMap_Success(t *testing.T) {
	res := Map(adapter.Outcome{
		Status:            adapter.StatusSuccess,
		ProviderReference: "prov-123",
		Raw:               json.RawMessage(`{"transId":"prov-123"}`),
	}, ledger.KindPurchase)

	assert.Equal(t, ledger.TxSuccess, res.Status)
	assert.Equal(t, "prov-123", res.ProviderReference)
	assert.JSONEq(t, `{"transId":"prov-123"}`, res.RawOutcome)
}

func TestMap_FailureHasNoReference(t *testing.T) {
	o := adapter.Failed("2", "card declined", false)
	o.ProviderReference = "should-not-leak"
	o.Raw = json.RawMessage(`{"resultCode":"Error"}`)

	res := Map(o, ledger.KindAuthorize)
	assert.Equal(t, ledger.TxFailed, res.Status)
	assert.Empty(t, res.ProviderReference)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.RawOutcome), &payload))
	assert.Equal(t, "authorize", payload["operation"])
	assert.Equal(t, "card declined", payload["error"])
	assert.Equal(t, "2", payload["code"])
	assert.NotNil(t, payload["response"])
	assert.Equal(t, "2", FailureCode(res.RawOutcome))
}

func TestMap_FailureWithoutDetail(t *testing.T) {
	res := Map(adapter.Outcome{Status: adapter.StatusFailed, Raw: json.RawMessage("not json")}, ledger.KindRefund)
	assert.Equal(t, ledger.TxFailed, res.Status)
	assert.Contains(t, res.RawOutcome, "without detail")
	assert.True(t, json.Valid([]byte(res.RawOutcome)))
}

func TestMap_SameRuleForEveryKind(t *testing.T) {
	o := adapter.Failed("E", "boom", true)
	for _, kind := range []ledger.Kind{ledger.KindAuthorize, ledger.KindCapture, ledger.KindPurchase, ledger.KindRefund, ledger.KindVoid} {
		res := Map(o, kind)
		assert.Equal(t, ledger.TxFailed, res.Status, kind)
		assert.Empty(t, res.ProviderReference, kind)
	}
}

func TestMap_SuccessWithoutReference(t *testing.T) {
	res := Map(adapter.Outcome{Status: adapter.StatusSuccess, Raw: json.RawMessage(`{"messages":{"resultCode":"Ok"}}`)}, ledger.KindCapture)
	assert.Equal(t, ledger.TxFailed, res.Status)
	assert.Empty(t, res.ProviderReference)
	assert.Equal(t, CodeMissingReference, FailureCode(res.RawOutcome))
	assert.Contains(t, res.RawOutcome, `"resultCode":"Ok"`)
}

func TestFailureCode_Unparseable(t *testing.T) {
	assert.Empty(t, FailureCode(""))
	assert.Empty(t, FailureCode("{"))
	assert.Empty(t, FailureCode(`{"transId":"1"}`))
}
