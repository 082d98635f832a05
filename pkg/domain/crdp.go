package domain

import (
	"encoding/json"
	"time"
)

// Settings is the raw, operator-edited session configuration. Values are kept as typed
// text so that an unparseable port can be reported when a request is built.
type Settings struct {
	Host   string `yaml:"host" json:"host"`
	Port   string `yaml:"port" json:"port"`
	Policy string `yaml:"policy" json:"policy"`
}

// Configuration is the parsed endpoint configuration captured for a single request.
type Configuration struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Policy string `json:"policy"`
}

// ProtectRequest asks the gateway to protect one 13-digit value.
type ProtectRequest struct {
	Data   string `json:"data"`
	Policy string `json:"policy"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// RevealRequest asks the gateway to reveal one token.
type RevealRequest struct {
	ProtectedData string `json:"protected_data"`
	Username      string `json:"username,omitempty"`
	Policy        string `json:"policy"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
}

// BulkProtectRequest asks the gateway to protect an ordered batch of values.
type BulkProtectRequest struct {
	DataArray []string `json:"data_array"`
	Policy    string   `json:"policy"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
}

// BulkRevealRequest asks the gateway to reveal an ordered batch of tokens.
type BulkRevealRequest struct {
	ProtectedDataArray []string `json:"protected_data_array"`
	Username           string   `json:"username,omitempty"`
	Policy             string   `json:"policy"`
	Host               string   `json:"host"`
	Port               int      `json:"port"`
}

// OperationResult is the outcome shown on an operation slot. StatusCode is always set;
// on completion exactly one of the payload fields or Error is populated.
type OperationResult struct {
	StatusCode         int             `json:"status_code"`
	ProtectedData      *string         `json:"protected_data,omitempty"`
	Data               *string         `json:"data,omitempty"`
	ProtectedDataArray []string        `json:"protected_data_array,omitempty"`
	DataArray          []string        `json:"data_array,omitempty"`
	Error              string          `json:"error,omitempty"`
	Debug              json.RawMessage `json:"debug,omitempty"`

	// Err is the typed error behind Error. It is never serialized.
	Err error `json:"-"`
}

// Failed reports whether the result carries an error instead of a payload.
func (r OperationResult) Failed() bool {
	return r.Error != ""
}

// FailureResult converts err into a displayed result with the given status code.
func FailureResult(statusCode int, err error) OperationResult {
	return OperationResult{
		StatusCode: statusCode,
		Error:      err.Error(),
		Err:        err,
	}
}

// HealthStatus is the result of a health check. It deliberately does not share
// OperationResult's shape: failures are reported as OK=false with a message.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Stage identifies the operation recorded by a log entry.
type Stage string

// Stages recorded in the session log.
const (
	StageProtect     Stage = "protect"
	StageReveal      Stage = "reveal"
	StageProtectBulk Stage = "protect_bulk"
	StageRevealBulk  Stage = "reveal_bulk"
	StageHealth      Stage = "health"
)

// LogEntry is one attempted operation recorded in the session log.
type LogEntry struct {
	ID       string          `json:"id"`
	Time     time.Time       `json:"time"`
	Stage    Stage           `json:"stage"`
	Request  any             `json:"request,omitempty"`
	Response any             `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Debug    json.RawMessage `json:"debug,omitempty"`
}
