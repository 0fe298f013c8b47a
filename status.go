package sink

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// StatusHandler lets a harness poll the sink: /health always answers, /state
// reports Stats as json.
func StatusHandler(s *Sink) http.Handler {
	router := httprouter.New()
	router.GET("/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("ok\n"))
	})
	router.GET("/state", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		bytes, err := json.Marshal(s.Stats())
		if err != nil {
			panic(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(bytes)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, err interface{}) {
		s.log.Error().Str("path", r.URL.Path).Str("err", fmt.Sprint(err)).Msg("status handler panic")
		w.WriteHeader(500)
		_, _ = fmt.Fprintf(w, "%s\n", err)
	}
	return router
}
