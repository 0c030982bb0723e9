package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

// ErrMissingParams makes the dispatcher drop a command without replying.
var ErrMissingParams = errors.New("missing required params")

// Handler executes one command against the host and returns the reply data.
type Handler func(ctx context.Context, h host.Host, params json.RawMessage) (any, error)

// Handlers maps every protocol.Command to its implementation.
func Handlers() map[protocol.Command]Handler {
	return map[protocol.Command]Handler{
		protocol.CommandGetResponseBody: getResponseBody,
		protocol.CommandQueryTabs:       queryTabs,
		protocol.CommandToURL:           toURL,
		protocol.CommandExecuteScript:   executeScript,
	}
}

type Dispatcher struct {
	log      logr.Logger
	host     host.Host
	handlers map[protocol.Command]Handler
}

func NewDispatcher(log logr.Logger, h host.Host, handlers map[protocol.Command]Handler) *Dispatcher {
	return &Dispatcher{log: log, host: h, handlers: handlers}
}

// Dispatch runs the handler for req on its own goroutine and hands the reply
// to reply. Messages without id or command, unknown commands and commands
// missing required params get no reply at all.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Message, reply func(protocol.Message)) bool {
	if !req.Dispatchable() {
		return false
	}
	handler, ok := d.handlers[protocol.Command(req.Command)]
	if !ok {
		d.log.V(1).Info("ignore unknown command", "id", req.ID, "command", req.Command)
		return false
	}

	go func() {
		data, err := handler(ctx, d.host, req.Params)
		if errors.Is(err, ErrMissingParams) {
			d.log.V(1).Info("ignore command without required params", "id", req.ID, "command", req.Command)
			return
		}
		if err != nil {
			d.log.Info("command failed", "id", req.ID, "command", req.Command, "error", err.Error())
		}

		rsp, encodeErr := protocol.NewReply(req, data, err)
		if encodeErr != nil {
			d.log.Error(encodeErr, "cannot encode reply", "id", req.ID, "command", req.Command)
			rsp, _ = protocol.NewReply(req, nil, encodeErr)
		}
		reply(rsp)
	}()
	return true
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrMissingParams
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingParams, err)
	}
	return nil
}

func getResponseBody(ctx context.Context, h host.Host, raw json.RawMessage) (any, error) {
	var params protocol.GetResponseBodyParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.TabID == 0 || params.RequestID == "" {
		return nil, ErrMissingParams
	}

	res, err := h.SendCommand(ctx, host.TabID(params.TabID), "Network.getResponseBody",
		map[string]string{"requestId": params.RequestID})
	if err != nil {
		return nil, err
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return body.Body, nil
}

func queryTabs(ctx context.Context, h host.Host, _ json.RawMessage) (any, error) {
	tabs, err := h.QueryTabs(ctx, host.TabQuery{CurrentWindow: true})
	if err != nil {
		return nil, err
	}
	if tabs == nil {
		tabs = []host.Tab{}
	}
	return tabs, nil
}

func toURL(ctx context.Context, h host.Host, raw json.RawMessage) (any, error) {
	var params protocol.ToURLParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.TabID == 0 || params.URL == "" {
		return nil, ErrMissingParams
	}
	return h.Navigate(ctx, host.TabID(params.TabID), params.URL)
}

func executeScript(ctx context.Context, h host.Host, raw json.RawMessage) (any, error) {
	var params protocol.ExecuteScriptParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.TabID == 0 || params.Script == "" {
		return nil, ErrMissingParams
	}

	res, err := h.SendCommand(ctx, host.TabID(params.TabID), "Runtime.evaluate", map[string]any{
		"expression":    params.Script,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var eval struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(res, &eval); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	if ex := eval.ExceptionDetails; ex != nil {
		if ex.Exception != nil && ex.Exception.Description != "" {
			return nil, errors.New(ex.Exception.Description)
		}
		return nil, errors.New(ex.Text)
	}
	if len(eval.Result.Value) == 0 {
		return nil, nil
	}
	return eval.Result.Value, nil
}
