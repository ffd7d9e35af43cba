package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"infomail/services"
)

// maxBodyBytes leaves room for 7 MiB of attachments after base64 inflation.
const maxBodyBytes = 16 << 20

var errBadRequest = &services.Error{Kind: services.ErrValidation, Msg: "Invalid request payload"}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &services.Error{Kind: services.ErrValidation, Msg: "Request body too large"}
		}
		return errBadRequest
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, &services.Error{Kind: services.ErrValidation, Msg: "Invalid " + name}
	}
	return id, nil
}

// queryInt64 returns nil when the parameter is absent.
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &services.Error{Kind: services.ErrValidation, Msg: "Invalid " + name}
	}
	return &v, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}

// caller returns the authenticated identity. Routes are always mounted
// behind Authenticate, so a missing identity is a wiring bug.
func caller(r *http.Request) services.Identity {
	who, _ := IdentityFrom(r.Context())
	return who
}
