package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/prefkit/internal/settings"
)

const maxRequestBodySize = 1 << 20 // 1MB

type KeyList struct {
	Keys []string `json:"keys"`
}

type Deps struct {
	Store settings.Store
	Token string
}

// NewHandler serves the settings of one store over HTTP. Everything except
// /health requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/settings", handleListSettings(deps))
		r.Get("/settings/{key}", handleGetSetting(deps))
		r.Put("/settings/{key}", handlePutSetting(deps))
		r.Delete("/settings/{key}", handleDeleteSetting(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func settingKey(r *http.Request) (string, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("empty key")
	}
	return key, nil
}

func handleListSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lister, ok := deps.Store.(settings.Lister)
		if !ok {
			httpError(w, http.StatusNotImplemented, "not_supported", "this store cannot list its keys")
			return
		}
		keys, err := lister.Keys()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list settings: %v", err)
			return
		}
		if keys == nil {
			keys = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(KeyList{Keys: keys})
	}
}

func handleGetSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := settingKey(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}

		v, ok, err := deps.Store.Object(key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read setting: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "setting %q not found", key)
			return
		}
		wire, err := EncodeValue(v)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode setting: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire)
	}
}

func handlePutSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := settingKey(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var wire Value
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		v, err := wire.Decode()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid value: %v", err)
			return
		}
		if err := deps.Store.SetObject(key, v); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, settings.ErrUnsupportedType) {
				status = http.StatusBadRequest
			}
			httpError(w, status, "api_error", "failed to write setting: %v", err)
			return
		}

		slog.Debug("setting written", "key", key, "type", wire.Type)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := settingKey(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}
		if err := deps.Store.RemoveObject(key); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete setting: %v", err)
			return
		}

		slog.Debug("setting removed", "key", key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
