package catalogtest

import (
	"encoding/json"
	"net/http"
)

// Result answers with a result envelope. An empty errs is omitted.
func Result(data any, resultType, errs string) http.HandlerFunc {
	body := map[string]any{"data": data, "type": resultType}
	if errs != "" {
		body["errs"] = errs
	}
	return JSON(http.StatusOK, body)
}

// JSON answers with v encoded as JSON.
func JSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, v)
	}
}

// Raw answers with a fixed body.
func Raw(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// Download answers with a binary body. An empty disposition sends no
// Content-Disposition header.
func Download(disposition string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// Echo answers with a result whose data holds the decoded invocation fields.
func Echo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params, kv any
		_ = json.Unmarshal([]byte(r.FormValue(fieldParameters)), &params)
		_ = json.Unmarshal([]byte(r.FormValue(fieldParametersKV)), &kv)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"parameters": params, "parameterskv": kv},
			"type": "ok",
		})
	}
}
