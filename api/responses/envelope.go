package responses

// Success bodies are wrapped as {"data": ...}; failures as {"error": {...}}.
type successBody struct {
	Data any `json:"data"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorBody struct {
	Error ErrorBody `json:"error"`
}
