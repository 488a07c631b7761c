package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"hotkeys2/internal/hotkeys"
)

// Method names carried in Frame.Method.
const (
	MethodRegister   = "register"
	MethodUpdate     = "update"
	MethodUnregister = "unregister"
	MethodDispose    = "dispose"

	// MethodInvoke is the only server-to-client notification. It has no id
	// and expects no response.
	MethodInvoke = "invoke"
)

// Frame is the JSON text frame exchanged on the /attach endpoint.
//
//	request:      {"id":1,"method":"register","params":{...}}
//	response:     {"id":1,"result":{...}} or {"id":1,"error":"..."}
//	notification: {"method":"invoke","params":{"target":"..."}}
type Frame struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RegisterParams mirrors the arguments of Surface.Register. Bit sets use the
// wire encodings of the hotkeys package.
type RegisterParams struct {
	Target          string `json:"target"`
	Mode            int    `json:"mode"`
	Modifiers       int    `json:"modifiers"`
	KeyEntry        string `json:"keyEntry"`
	Exclude         int    `json:"exclude"`
	ExcludeSelector string `json:"excludeSelector,omitempty"`
	IsDisabled      bool   `json:"isDisabled"`
}

// RegisterResult carries the handle assigned by the remote surface.
type RegisterResult struct {
	Handle int `json:"handle"`
}

// UpdateParams mirrors Surface.Update.
type UpdateParams struct {
	Handle     int  `json:"handle"`
	IsDisabled bool `json:"isDisabled"`
}

// UnregisterParams mirrors Surface.Unregister.
type UnregisterParams struct {
	Handle int `json:"handle"`
}

// InvokeParams names the client-side target of a matched entry.
type InvokeParams struct {
	Target string `json:"target"`
}

// KeyDownFrame is one key-down event sent to the /keys endpoint. Target is
// an HTML fragment describing the focused element; empty means unknown.
type KeyDownFrame struct {
	Key       string `json:"key"`
	Code      string `json:"code"`
	ShiftKey  bool   `json:"shiftKey"`
	CtrlKey   bool   `json:"ctrlKey"`
	AltKey    bool   `json:"altKey"`
	MetaKey   bool   `json:"metaKey"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Target    string `json:"target,omitempty"`
}

// KeyDownReply answers a KeyDownFrame. PreventDefault is always false under
// asynchronous delivery.
type KeyDownReply struct {
	PreventDefault bool   `json:"preventDefault"`
	Error          string `json:"error,omitempty"`
}

var errBadParams = errors.New("bridge: invalid params")

// validate checks the wire values of a register request.
func (p RegisterParams) validate() error {
	if p.Target == "" {
		return fmt.Errorf("%w: empty target", errBadParams)
	}
	if p.Mode != int(hotkeys.ByKey) && p.Mode != int(hotkeys.ByCode) {
		return fmt.Errorf("%w: mode %d", errBadParams, p.Mode)
	}
	if p.Modifiers < 0 || p.Modifiers > int(hotkeys.ModShift|hotkeys.ModControl|hotkeys.ModAlt|hotkeys.ModMeta) {
		return fmt.Errorf("%w: modifiers %d", errBadParams, p.Modifiers)
	}
	if p.Exclude < 0 || p.Exclude > int(hotkeys.ExcludeDefault|hotkeys.ExcludeContentEditable) {
		return fmt.Errorf("%w: exclude %d", errBadParams, p.Exclude)
	}
	if p.KeyEntry == "" {
		return fmt.Errorf("%w: empty keyEntry", errBadParams)
	}
	return nil
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: missing params", errBadParams)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errBadParams, err)
	}
	return v, nil
}
