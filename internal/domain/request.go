package domain

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChatResponse is returned after a successful turn.
type ChatResponse struct {
	Reply        string `json:"reply"`
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
}

// PublishResponse is returned after a session snapshot was stored.
// CID mirrors Address for clients of the IPFS-flavoured API.
type PublishResponse struct {
	CID          string `json:"cid"`
	Address      string `json:"address"`
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}
