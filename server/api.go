package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed static
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	// ratelimited runs the handler only if the client IP is within its budget for this route
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		if requestLimit <= 0 {
			www.Handle(s.Log, router, method, route, handle)
			return
		}
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/stats", s.httpGetStats)
	handle("GET", "/api/config", s.httpGetConfig)
	handle("POST", "/api/config/threshold", s.httpSetThreshold)
	ratelimited("POST", "/api/detect", s.httpDetect, s.config.DetectRequestsPerHour, time.Hour)

	handle("POST", "/api/region", s.httpCreateRegion)
	handle("GET", "/api/region/:id", s.httpGetRegion)
	handle("GET", "/api/region/:id/children", s.httpGetChildren)
	handle("GET", "/api/regions", s.httpListRegions)

	isImmutable := true
	var fsys fs.FS = staticWWW
	fsysRoot := "static"
	if s.config.HotReloadWWW {
		absRoot, err := filepath.Abs("server/static")
		if err != nil {
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}
	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}
