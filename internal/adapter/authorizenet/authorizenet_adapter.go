// Package authorizenet implements the Gateway contract against the
// Authorize.Net JSON API.
package authorizenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/callctx"
)

const (
	SandboxEndpoint    = "https://apitest.authorize.net/xml/v1/request.api"
	ProductionEndpoint = "https://api.authorize.net/xml/v1/request.api"

	defaultTimeout = 10 * time.Second
	maxRefIDLength = 20

	// Expiration placeholder the API accepts for refunds, where the full
	// card is no longer available.
	refundExpiration = "XXXX"
)

// Adapter error codes, used when the provider gave no code of its own.
const (
	CodeInvalidInstruction = "AUTHNET_INVALID_INSTRUCTION"
	CodeMissingCredentials = "AUTHNET_MISSING_CREDENTIALS"
	CodeNetworkError       = "AUTHNET_NETWORK_ERROR"
	CodeMalformedResponse  = "AUTHNET_MALFORMED_RESPONSE"
)

var utf8BOM = []byte("\xef\xbb\xbf")

var transactionTypes = map[adapter.Operation]string{
	adapter.OpPurchase:  "authCaptureTransaction",
	adapter.OpAuthorize: "authOnlyTransaction",
	adapter.OpCapture:   "priorAuthCaptureTransaction",
	adapter.OpVoid:      "voidTransaction",
	adapter.OpRefund:    "refundTransaction",
}

// Adapter implements adapter.Gateway for Authorize.Net.
type Adapter struct {
	client    *resty.Client
	endpoints map[callctx.Environment]string
}

// NewAdapter creates a new Adapter. A nil httpClient gets a default client
// with a 10 second timeout. The resty client performs no retries.
func NewAdapter(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	client := resty.NewWithClient(httpClient).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Adapter{
		client: client,
		endpoints: map[callctx.Environment]string{
			callctx.Sandbox:    SandboxEndpoint,
			callctx.Production: ProductionEndpoint,
		},
	}
}

// WithEndpoint points every environment at url. Used by tests.
func (a *Adapter) WithEndpoint(url string) *Adapter {
	for env := range a.endpoints {
		a.endpoints[env] = url
	}
	return a
}

// Name returns the name of the provider.
func (a *Adapter) Name() string {
	return "authorizenet"
}

func (a *Adapter) endpoint(env callctx.Environment) string {
	if url, ok := a.endpoints[env]; ok {
		return url
	}
	return a.endpoints[callctx.Sandbox]
}

// refID derives the merchant reference echoed back by the provider from the
// call's span, so provider logs can be joined with ours.
func refID(cc callctx.CallContext) string {
	id := strings.ReplaceAll(cc.SpanID, "-", "")
	if len(id) > maxRefIDLength {
		return id[:maxRefIDLength]
	}
	return id
}

// buildRequest creates the createTransactionRequest payload for in.
func buildRequest(cc callctx.CallContext, in adapter.Instruction) (createTransactionEnvelope, error) {
	txType, ok := transactionTypes[in.Operation]
	if !ok {
		return createTransactionEnvelope{}, fmt.Errorf("unsupported operation %q", in.Operation)
	}

	req := transactionRequest{TransactionType: txType}
	if in.Operation != adapter.OpVoid {
		amount, err := wireAmount(in.Amount)
		if err != nil {
			return createTransactionEnvelope{}, err
		}
		req.Amount = amount
	}
	switch in.Operation {
	case adapter.OpPurchase, adapter.OpAuthorize:
		if in.Card == nil {
			return createTransactionEnvelope{}, fmt.Errorf("%s requires card data", in.Operation)
		}
		req.CurrencyCode = strings.ToUpper(in.Currency)
		req.Payment = &payment{CreditCard: creditCard{
			CardNumber:     strings.ReplaceAll(in.Card.Number, " ", ""),
			ExpirationDate: fmt.Sprintf("%04d-%02d", in.Card.ExpYear, in.Card.ExpMonth),
			CardCode:       in.Card.CVV,
		}}
	case adapter.OpCapture:
		if in.PriorReference == "" {
			return createTransactionEnvelope{}, fmt.Errorf("capture requires a prior reference")
		}
		req.RefTransID = in.PriorReference
	case adapter.OpVoid:
		if in.PriorReference == "" {
			return createTransactionEnvelope{}, fmt.Errorf("void requires a prior reference")
		}
		req.RefTransID = in.PriorReference
	case adapter.OpRefund:
		if in.PriorReference == "" {
			return createTransactionEnvelope{}, fmt.Errorf("refund requires a prior reference")
		}
		if in.Last4 == "" {
			return createTransactionEnvelope{}, fmt.Errorf("refund requires the card's last four digits")
		}
		req.Payment = &payment{CreditCard: creditCard{
			CardNumber:     in.Last4,
			ExpirationDate: refundExpiration,
		}}
		req.RefTransID = in.PriorReference
	}

	return createTransactionEnvelope{CreateTransactionRequest: createTransactionRequest{
		MerchantAuthentication: merchantAuthentication{
			Name:           cc.Credentials.LoginID,
			TransactionKey: cc.Credentials.TransactionKey,
		},
		RefID:              refID(cc),
		TransactionRequest: req,
	}}, nil
}

// wireAmount formats d with two decimals. Amounts finer than a cent are
// rejected rather than rounded so the provider charges what the ledger
// records.
func wireAmount(d decimal.Decimal) (string, error) {
	if !d.Equal(d.Round(2)) {
		return "", fmt.Errorf("amount %s has more than two decimal places", d)
	}
	return d.StringFixed(2), nil
}

// Submit sends in to Authorize.Net using the credentials and environment
// carried by cc. It never returns an error: transport failures, non-OK
// results and unreadable responses all become failed outcomes.
func (a *Adapter) Submit(ctx context.Context, cc callctx.CallContext, in adapter.Instruction) adapter.Outcome {
	startTime := time.Now()

	if cc.Credentials.LoginID == "" || cc.Credentials.TransactionKey == "" {
		return adapter.Failed(CodeMissingCredentials, "authorizenet: merchant credentials are not configured", false)
	}

	envelope, err := buildRequest(cc, in)
	if err != nil {
		return adapter.Failed(CodeInvalidInstruction, "authorizenet: "+err.Error(), false)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(a.endpoint(cc.Environment))
	latency := time.Since(startTime)
	if err != nil {
		outcome := adapter.Failed(CodeNetworkError, fmt.Sprintf("authorizenet: http client error: %v", err), true)
		outcome.Latency = latency
		return outcome
	}

	body := bytes.TrimPrefix(resp.Body(), utf8BOM)

	if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError {
		outcome := adapter.Failed(fmt.Sprintf("AUTHNET_HTTP_%d", resp.StatusCode()),
			fmt.Sprintf("authorizenet: provider unavailable, HTTP %d", resp.StatusCode()), true)
		outcome.Latency = latency
		outcome.Raw = rawJSON(body)
		return outcome
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		outcome := adapter.Failed(fmt.Sprintf("AUTHNET_HTTP_%d", resp.StatusCode()),
			fmt.Sprintf("authorizenet: request rejected with HTTP %d", resp.StatusCode()), false)
		outcome.Latency = latency
		outcome.Raw = rawJSON(body)
		return outcome
	}

	var parsed createTransactionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		outcome := adapter.Failed(CodeMalformedResponse, fmt.Sprintf("authorizenet: failed to decode response: %v", err), false)
		outcome.Latency = latency
		outcome.Raw = rawJSON(body)
		return outcome
	}

	outcome := normalize(parsed, in)
	outcome.Latency = latency
	outcome.Raw = rawJSON(body)
	return outcome
}

// normalize maps a decoded provider response onto an Outcome.
func normalize(parsed createTransactionResponse, in adapter.Instruction) adapter.Outcome {
	tr := parsed.TransactionResponse

	if parsed.Messages.ResultCode == resultCodeOK {
		outcome := adapter.Outcome{Status: adapter.StatusSuccess}
		if tr != nil && tr.TransID != "" && tr.TransID != "0" {
			outcome.ProviderReference = tr.TransID
		} else if in.Operation == adapter.OpVoid {
			// A void is identified by the transaction it cancelled.
			outcome.ProviderReference = in.PriorReference
		}
		return outcome
	}

	if tr != nil && len(tr.Errors) > 0 {
		return adapter.Failed(tr.Errors[0].ErrorCode, tr.Errors[0].ErrorText, false)
	}
	if len(parsed.Messages.Message) > 0 {
		return adapter.Failed(parsed.Messages.Message[0].Code, parsed.Messages.Message[0].Text, false)
	}
	return adapter.Failed(CodeMalformedResponse, "authorizenet: result code "+parsed.Messages.ResultCode+" without messages", false)
}

// rawJSON keeps body as a diagnostic payload when it is valid JSON and
// wraps it as a JSON string otherwise.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(append([]byte(nil), body...))
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
