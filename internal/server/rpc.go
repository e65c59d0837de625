package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/ljm625/decky-sbox/pkg/sbox"
)

// maxRequestBody bounds an RPC argument object. Inline profiles travel in
// download_config, so this is generous.
const maxRequestBody = 8 << 20

// Envelope is every RPC response.
type Envelope struct {
	OK      bool            `json:"ok"`
	Kind    sbox.Kind       `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Result returns the envelope's success flag, kind and message.
func (e Envelope) Result() sbox.Result {
	return sbox.Result{OK: e.OK, Kind: e.Kind, Message: e.Message}
}

// Argument objects, one per operation.
type (
	NameArgs struct {
		Name string `json:"name"`
	}
	DownloadArgs struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	UpdateArgs struct {
		Name  string `json:"name"`
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	ToggleArgs struct {
		On *bool `json:"on"`
	}
)

// Operation names.
const (
	OpInfo     = "info"
	OpList     = "list_configs"
	OpDownload = "download_config"
	OpRefresh  = "refresh_config"
	OpUpdate   = "update_config"
	OpDelete   = "delete_config"
	OpToggle   = "toggle_singbox"
)

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op := r.PathValue("op")

	if status, err := checkRequest(r); err != nil {
		s.logger.Warn("request rejected", "op", op, "error", err, "request_id", RequestID(ctx))
		writeEnvelope(w, status, Envelope{Kind: sbox.KindInvalidRequest, Message: err.Error()})
		return
	}

	var res sbox.Result
	var data any
	var err error

	switch op {
	case OpInfo:
		if err = decodeArgs(r, nil); err == nil {
			var info sbox.Info
			info, err = s.svc.Info(ctx)
			data = info
		}
	case OpList:
		if err = decodeArgs(r, nil); err == nil {
			var profiles []sbox.Profile
			profiles, err = s.svc.ListConfigs(ctx)
			data = profiles
		}
	case OpDownload:
		var args DownloadArgs
		if err = decodeArgs(r, &args); err == nil {
			res = s.svc.DownloadConfig(ctx, args.Name, args.Source)
		}
	case OpRefresh:
		var args NameArgs
		if err = decodeArgs(r, &args); err == nil {
			res = s.svc.RefreshConfig(ctx, args.Name)
		}
	case OpUpdate:
		var args UpdateArgs
		if err = decodeArgs(r, &args); err == nil {
			var field sbox.Field
			if field, err = sbox.ParseField(args.Field, args.Value); err == nil {
				res = s.svc.UpdateConfig(ctx, args.Name, field)
			}
		}
	case OpDelete:
		var args NameArgs
		if err = decodeArgs(r, &args); err == nil {
			res = s.svc.DeleteConfig(ctx, args.Name)
		}
	case OpToggle:
		var args ToggleArgs
		if err = decodeArgs(r, &args); err == nil {
			if args.On == nil {
				err = &requestError{err: errors.New(`missing "on"`)}
			} else {
				res = s.svc.ToggleSingbox(ctx, *args.On)
			}
		}
	default:
		writeEnvelope(w, http.StatusNotFound, Envelope{Kind: sbox.KindInvalidRequest, Message: fmt.Sprintf("unknown operation %q", op)})
		return
	}

	if err != nil {
		res = resultFor(err)
	} else if data != nil {
		res = sbox.Result{OK: true}
	}

	env := Envelope{OK: res.OK, Kind: res.Kind, Message: res.Message}
	if res.OK && data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			res = sbox.ResultOf(merr)
			env = Envelope{Kind: res.Kind, Message: res.Message}
		} else {
			env.Data = raw
		}
	}
	if !res.OK {
		s.logger.Info("operation failed", "op", op, "kind", res.Kind, "message", res.Message, "request_id", RequestID(ctx))
	}
	writeEnvelope(w, statusFor(res), env)
}

// checkRequest admits only JSON requests that did not come from a web
// page. Browsers send cross-origin text/plain or form posts without a
// preflight, and always attach Origin to them.
func checkRequest(r *http.Request) (int, error) {
	if origin := r.Header.Get("Origin"); origin != "" {
		return http.StatusForbidden, fmt.Errorf("cross-origin request from %q refused", origin)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return http.StatusUnsupportedMediaType, fmt.Errorf("content type must be application/json, got %q", r.Header.Get("Content-Type"))
	}
	return 0, nil
}

// errBadRequest marks malformed argument objects.
var errBadRequest = errors.New("bad request")

// decodeArgs strictly decodes the body into dst. An empty body is an
// empty object. dst nil accepts only an empty object.
func decodeArgs(r *http.Request, dst any) error {
	if dst == nil {
		dst = &struct{}{}
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &requestError{err: err}
	}
	return nil
}

func resultFor(err error) sbox.Result {
	if errors.Is(err, errBadRequest) {
		return sbox.Result{Kind: sbox.KindInvalidRequest, Message: err.Error()}
	}
	return sbox.ResultOf(err)
}

type requestError struct{ err error }

func (e *requestError) Error() string { return fmt.Sprintf("%v: %v", errBadRequest, e.err) }
func (e *requestError) Unwrap() error { return errBadRequest }

func statusFor(res sbox.Result) int {
	switch {
	case res.OK:
		return http.StatusOK
	case res.Kind == sbox.KindInvalidRequest:
		return http.StatusBadRequest
	case res.Kind == sbox.KindInternal:
		return http.StatusInternalServerError
	default:
		// Domain failures are answers, not transport errors.
		return http.StatusOK
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
