package authorizenet

// Request and response shapes of the Authorize.Net JSON API. The API
// validates element order against its XML schema, so field order here
// follows the schema and must not be rearranged.

type createTransactionEnvelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type transactionRequest struct {
	TransactionType string   `json:"transactionType"`
	Amount          string   `json:"amount,omitempty"`
	CurrencyCode    string   `json:"currencyCode,omitempty"`
	Payment         *payment `json:"payment,omitempty"`
	RefTransID      string   `json:"refTransId,omitempty"`
}

type payment struct {
	CreditCard creditCard `json:"creditCard"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode,omitempty"`
}

type createTransactionResponse struct {
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	RefID               string               `json:"refId"`
	Messages            messages             `json:"messages"`
}

type messages struct {
	ResultCode string    `json:"resultCode"`
	Message    []message `json:"message"`
}

type message struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type transactionResponse struct {
	ResponseCode  string             `json:"responseCode"`
	AuthCode      string             `json:"authCode"`
	TransID       string             `json:"transId"`
	RefTransID    string             `json:"refTransID"`
	AccountNumber string             `json:"accountNumber"`
	Errors        []transactionError `json:"errors"`
}

type transactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

const resultCodeOK = "Ok"
