// Package adapter implements the tus 1.0.0 HTTP surface: header validation,
// dispatch to one pkg/vault operation per request, firing the configured
// callbacks, and writing protocol-conformant responses. It has no opinion
// on how the host process routes requests to it beyond the convenience
// Handler method; BasePath is purely used to compute Location headers and
// to strip the upload id out of incoming paths.
package adapter

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kallebysantos/meteoritus/pkg/fileinfo"
	"github.com/kallebysantos/meteoritus/pkg/vault"
)

const tusVersion = "1.0.0"

// Adapter is the configured tus protocol handler set. Build one with New;
// it is immutable and safe for concurrent use once constructed.
type Adapter struct {
	cfg Config
}

// New validates cfg and returns a ready to use Adapter.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg}, nil
}

// Config returns the adapter's resolved configuration.
func (a *Adapter) Config() Config {
	return a.cfg
}

func (a *Adapter) baseResponse() HTTPResponse {
	return HTTPResponse{
		Header: HTTPHeader{"Tus-Resumable": tusVersion},
	}
}

func (a *Adapter) writeResponse(w http.ResponseWriter, resp HTTPResponse) {
	a.baseResponse().MergeWith(resp).writeTo(w)
}

func (a *Adapter) writeError(w http.ResponseWriter, e Error) {
	a.cfg.Metrics.IncError(e.Response.StatusCode)
	a.writeResponse(w, e.Response)
}

// validateTusResumable enforces the universal precondition for every
// non-OPTIONS endpoint: the header must be present and exactly "1.0.0".
func validateTusResumable(r *http.Request) bool {
	return r.Header.Get("Tus-Resumable") == tusVersion
}

func (a *Adapter) idFromPath(r *http.Request) string {
	trimmedBase := strings.TrimSuffix(a.cfg.BasePath, "/")
	rel := strings.TrimPrefix(r.URL.Path, trimmedBase)
	return strings.Trim(rel, "/")
}

// Options implements the OPTIONS / capability-discovery endpoint.
func (a *Adapter) Options(w http.ResponseWriter, r *http.Request) {
	a.cfg.Metrics.IncRequest(r.Method)

	rc := newRequestContext(r, a.cfg.Logger)
	defer rc.close()
	rc.log.Info("RequestIncoming")

	a.writeResponse(w, HTTPResponse{
		StatusCode: http.StatusNoContent,
		Header: HTTPHeader{
			"Tus-Version":   tusVersion,
			"Tus-Extension": "creation,termination",
			"Tus-Max-Size":  strconv.FormatUint(a.cfg.MaxSize, 10),
		},
	})
}

// Create implements POST /, the resource-creation endpoint.
func (a *Adapter) Create(w http.ResponseWriter, r *http.Request) {
	a.cfg.Metrics.IncRequest(r.Method)

	rc := newRequestContext(r, a.cfg.Logger)
	defer rc.close()
	rc.log.Info("RequestIncoming")

	if !validateTusResumable(r) {
		a.writeError(w, ErrMissingTusResumable)
		return
	}

	lengthHeader := r.Header.Get("Upload-Length")
	length, err := strconv.ParseUint(lengthHeader, 10, 64)
	if lengthHeader == "" || err != nil {
		a.writeError(w, ErrMissingUploadLength)
		return
	}

	if length > a.cfg.MaxSize {
		a.writeError(w, ErrUploadTooLarge)
		return
	}

	rawMetadata := r.Header.Get("Upload-Metadata")

	info, err := a.cfg.Vault.BuildFile(rc, length, rawMetadata)
	if err != nil {
		rc.log.Error("InternalServerError", "error", err.Error())
		a.writeError(w, ErrInternal)
		return
	}

	if a.cfg.OnCreation != nil {
		if err := a.cfg.OnCreation(newHookEvent(info.Snapshot(), r)); err != nil {
			rc.log.Warn("CreationRejected", "error", err.Error())
			a.writeError(w, NewError(ErrCallbackRejected.Code, err.Error(), http.StatusUnprocessableEntity))
			return
		}
	}

	info, err = a.cfg.Vault.CreateFile(rc, info)
	if err != nil {
		rc.log.Error("InternalServerError", "error", err.Error())
		a.writeError(w, ErrInternal)
		return
	}

	rc.log = rc.log.With("id", info.ID())
	a.cfg.Metrics.IncUploadsCreated()
	rc.log.Info("UploadCreated", "size", info.Length())

	if a.cfg.OnCreated != nil {
		_ = a.cfg.OnCreated(newHookEvent(info.Snapshot(), r))
	}

	location := strings.TrimSuffix(a.cfg.BasePath, "/") + "/" + info.ID()

	a.writeResponse(w, HTTPResponse{
		StatusCode: http.StatusCreated,
		Header:     HTTPHeader{"Location": location},
	})
}

// Status implements HEAD /<id>, reporting current length and offset.
func (a *Adapter) Status(w http.ResponseWriter, r *http.Request) {
	a.cfg.Metrics.IncRequest(r.Method)

	rc := newRequestContext(r, a.cfg.Logger)
	defer rc.close()
	rc.log.Info("RequestIncoming")

	if !validateTusResumable(r) {
		a.writeError(w, ErrMissingTusResumable)
		return
	}

	id := a.idFromPath(r)
	rc.log = rc.log.With("id", id)

	info, err := a.cfg.Vault.GetFile(rc, id)
	if err != nil {
		a.writeError(w, mapVaultError(err))
		return
	}

	a.writeResponse(w, HTTPResponse{
		StatusCode: http.StatusNoContent,
		Header: HTTPHeader{
			"Upload-Length": strconv.FormatUint(info.Length(), 10),
			"Upload-Offset": strconv.FormatUint(info.Offset(), 10),
		},
	})
}

// Patch implements PATCH /<id>, appending bytes at the client-supplied
// offset.
func (a *Adapter) Patch(w http.ResponseWriter, r *http.Request) {
	a.cfg.Metrics.IncRequest(r.Method)

	rc := newRequestContext(r, a.cfg.Logger)
	defer rc.close()
	rc.log.Info("RequestIncoming")

	if !validateTusResumable(r) {
		a.writeError(w, ErrMissingTusResumable)
		return
	}

	offsetHeader := r.Header.Get("Upload-Offset")
	clientOffset, err := strconv.ParseUint(offsetHeader, 10, 64)
	if offsetHeader == "" || err != nil {
		a.writeError(w, ErrMissingUploadOffset)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		a.writeError(w, ErrMissingContentType)
		return
	}
	if contentType != "application/offset+octet-stream" {
		a.writeError(w, ErrUnsupportedMediaType)
		return
	}

	id := a.idFromPath(r)
	rc.log = rc.log.With("id", id)

	if !a.cfg.Vault.Exists(rc, id) {
		a.writeError(w, ErrUploadNotFound)
		return
	}

	if a.cfg.Semaphore != nil {
		if err := a.cfg.Semaphore.Acquire(rc, 1); err != nil {
			rc.log.Warn("NetworkControlError", "error", err.Error())
			a.writeError(w, ErrInternal)
			return
		}
		defer a.cfg.Semaphore.Release(1)
	}

	var unlock func() error
	if a.cfg.Locker != nil {
		l, err := a.cfg.Locker.NewLock(id)
		if err != nil {
			rc.log.Error("InternalServerError", "error", err.Error())
			a.writeError(w, ErrInternal)
			return
		}
		if err := l.Lock(rc, func() {}); err != nil {
			rc.log.Error("InternalServerError", "error", err.Error())
			a.writeError(w, ErrInternal)
			return
		}
		unlock = l.Unlock
		defer unlock()
	}

	rc.log.Info("ChunkWriteStart", "offset", clientOffset)

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(a.cfg.MaxSize)+1))
	if err != nil {
		rc.log.Error("BodyReadError", "error", err.Error())
		a.writeError(w, ErrBodyReadFailed)
		return
	}

	outcome, err := a.cfg.Vault.PatchFile(rc, id, body, clientOffset)
	if err != nil {
		rc.log.Error("ChunkWriteError", "error", err.Error())
		a.writeError(w, mapPatchError(err))
		return
	}

	a.cfg.Metrics.AddBytesReceived(uint64(len(body)))
	rc.log.Info("ChunkWriteComplete", "bytesWritten", len(body))

	if outcome.Completed {
		a.onUploadCompleted(rc, r, id, outcome.Info)
	}

	a.writeResponse(w, HTTPResponse{
		StatusCode: http.StatusNoContent,
		Header:     HTTPHeader{"Upload-Offset": strconv.FormatUint(outcome.NewOffset, 10)},
	})
}

func (a *Adapter) onUploadCompleted(rc *requestContext, r *http.Request, id string, snap fileinfo.Snapshot) {
	a.cfg.Metrics.IncUploadsFinished()
	rc.log.Info("UploadFinished", "size", snap.Length)

	if a.cfg.OnCompleted != nil {
		_ = a.cfg.OnCompleted(newHookEvent(snap, r))
	}

	if a.cfg.AutoTerminate {
		if _, err := a.cfg.Vault.TerminateFile(rc, id); err == nil {
			a.cfg.Metrics.IncUploadsTerminated()
			rc.log.Info("UploadTerminated")
		}
	}
}

// Terminate implements DELETE /<id>.
func (a *Adapter) Terminate(w http.ResponseWriter, r *http.Request) {
	a.cfg.Metrics.IncRequest(r.Method)

	rc := newRequestContext(r, a.cfg.Logger)
	defer rc.close()
	rc.log.Info("RequestIncoming")

	if !validateTusResumable(r) {
		a.writeError(w, ErrMissingTusResumable)
		return
	}

	id := a.idFromPath(r)
	rc.log = rc.log.With("id", id)

	snap, err := a.cfg.Vault.TerminateFile(rc, id)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			a.writeError(w, ErrUploadGone)
			return
		}
		rc.log.Error("InternalServerError", "error", err.Error())
		a.writeError(w, ErrInternal)
		return
	}

	a.cfg.Metrics.IncUploadsTerminated()
	rc.log.Info("UploadTerminated")

	if a.cfg.OnTermination != nil {
		_ = a.cfg.OnTermination(newHookEvent(snap, r))
	}

	a.writeResponse(w, HTTPResponse{StatusCode: http.StatusNoContent})
}

// Handler returns an http.Handler dispatching all five endpoints under
// BasePath. Hosts that already have their own router are free to call
// Options/Create/Status/Patch/Terminate directly instead.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := a.idFromPath(r)

		switch {
		case r.Method == http.MethodOptions:
			a.Options(w, r)
		case r.Method == http.MethodPost && id == "":
			a.Create(w, r)
		case r.Method == http.MethodHead && id != "":
			a.Status(w, r)
		case r.Method == http.MethodPatch && id != "":
			a.Patch(w, r)
		case r.Method == http.MethodDelete && id != "":
			a.Terminate(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
