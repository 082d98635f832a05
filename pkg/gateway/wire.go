package gateway

import "fmt"

// healthResponse is the GET /health body. Fields are decoded loosely because gateways
// report the port as either a number or a string.
type healthResponse struct {
	Status any `json:"status"`
	Host   any `json:"crdp_api_host"`
	Port   any `json:"crdp_api_port"`
	Policy any `json:"protection_policy"`
}

func (h healthResponse) message() string {
	return fmt.Sprintf("host=%v, port=%v, policy=%v", valueOrEmpty(h.Host), valueOrEmpty(h.Port), valueOrEmpty(h.Policy))
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
