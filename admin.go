package arbridge

import (
	"encoding/json"
	"net/http"
)

// SignerSwitch is the node-wide switch gating the offchain worker.
type SignerSwitch interface {
	Enabled() bool
	Toggle() bool
}

// AdminHandler serves the operator endpoints:
//
//	POST /arweaveSigner/toggleEnable   flip the switch
//	GET  /arweaveSigner/enabled        read it
func AdminHandler(sw SignerSwitch) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /arweaveSigner/toggleEnable", func(w http.ResponseWriter, r *http.Request) {
		writeEnabled(w, sw.Toggle())
	})
	mux.HandleFunc("GET /arweaveSigner/enabled", func(w http.ResponseWriter, r *http.Request) {
		writeEnabled(w, sw.Enabled())
	})
	return mux
}

func writeEnabled(w http.ResponseWriter, on bool) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"enabled": on})
}
