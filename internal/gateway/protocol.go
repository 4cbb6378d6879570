package gateway

import (
	"encoding/json"
	"runtime"

	"github.com/Wadera/clawboard/internal/config"
)

// Wire protocol: JSON text frames over one websocket. A request is
// {type:"req",id,method,params}; the matching response is
// {type:"res",id,ok,error?}. The remote may interleave unrelated frames
// (push notifications, pings) on the same connection; those are skipped.

const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"

	methodConnect = "connect"
	methodAbort   = "chat.abort"

	protocolVersionMin = 1
	protocolVersionMax = 1
)

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Error json.RawMessage `json:"error,omitempty"`
}

// errorText flattens the response error, which remotes encode either as a
// bare string or as {code,message}.
func (r *response) errorText() string {
	if len(r.Error) == 0 {
		return ""
	}

	var plain string
	if json.Unmarshal(r.Error, &plain) == nil {
		return plain
	}

	var structured struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(r.Error, &structured) == nil {
		if structured.Message != "" {
			return structured.Message
		}
		return structured.Code
	}
	return string(r.Error)
}

type clientInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

type connectParams struct {
	MinProtocolVersion int                `json:"minProtocolVersion"`
	MaxProtocolVersion int                `json:"maxProtocolVersion"`
	Client             clientInfo         `json:"client"`
	Role               string             `json:"role"`
	Scopes             []string           `json:"scopes"`
	Auth               config.GatewayAuth `json:"auth"`
}

type abortParams struct {
	SessionKey string `json:"sessionKey"`
}

func (c *Client) connectParams() connectParams {
	return connectParams{
		MinProtocolVersion: protocolVersionMin,
		MaxProtocolVersion: protocolVersionMax,
		Client: clientInfo{
			ID:       c.instanceID,
			Name:     "clawboard",
			Version:  Version,
			Platform: runtime.GOOS,
		},
		Role:   "operator",
		Scopes: []string{"sessions:abort"},
		Auth:   c.Auth,
	}
}
