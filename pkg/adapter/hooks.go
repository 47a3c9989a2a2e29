package adapter

import (
	"net/http"

	"github.com/kallebysantos/meteoritus/pkg/fileinfo"
)

// HTTPRequest carries the subset of the incoming request a callback might
// need, without exposing the host framework's own request type.
type HTTPRequest struct {
	Method     string
	URI        string
	RemoteAddr string
	Header     http.Header
}

// HookEvent is passed to every registered callback. Info is a snapshot, not
// a live pointer, so callbacks cannot mutate adapter-internal state.
type HookEvent struct {
	Info    fileinfo.Snapshot
	Request HTTPRequest
}

func newHookEvent(info fileinfo.Snapshot, r *http.Request) HookEvent {
	return HookEvent{
		Info: info,
		Request: HTTPRequest{
			Method:     r.Method,
			URI:        r.RequestURI,
			RemoteAddr: r.RemoteAddr,
			Header:     r.Header,
		},
	}
}

// HookFunc is the signature every callback in Config must satisfy.
// Returning a non-nil error only has an effect for OnCreation, which can
// abort the transition; for every other hook the error is ignored (not
// logged), per the notification-only contract.
type HookFunc func(HookEvent) error
