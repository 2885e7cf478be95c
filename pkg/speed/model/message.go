package model

// Message is a structured text frame sent by the server during a socket
// session.
type Message struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
	// Size is the number of bytes the client must upload. Only set on
	// upload-test-start messages.
	Size  int64  `json:"size,omitempty"`
	Error string `json:"error,omitempty"`
}

// Command is a structured text frame sent by the client.
type Command struct {
	Action string `json:"action"`
}
