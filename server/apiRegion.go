package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/server/annotationdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpCreateRegion(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type createJSON struct {
		Image string       `json:"image"`
		Name  string       `json:"name"`
		ROI   geom.Polygon `json:"roi"`
	}
	req := createJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if req.Image == "" {
		www.PanicBadRequestf("Image may not be empty")
	}
	if len(req.ROI) == 0 || req.ROI.Area() <= 0 {
		www.PanicBadRequestf("Region ROI may not be empty")
	}
	region, err := s.DB.CreateRegion(req.Image, req.Name, req.ROI)
	www.Check(err)
	s.Log.Infof("Created region %v '%v' on %v", region.ID, region.Name, region.Image)
	www.SendJSONID(w, region.ID)
}

func (s *Server) httpGetRegion(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.getRegion(params))
}

func (s *Server) httpGetChildren(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	region := s.getRegion(params)
	children, err := s.DB.Children(region.ID)
	www.Check(err)
	www.SendJSON(w, children)
}

func (s *Server) httpListRegions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	regions, err := s.DB.Regions(www.RequiredQueryValue(r, "image"))
	www.Check(err)
	www.SendJSON(w, regions)
}

func (s *Server) getRegion(params httprouter.Params) *annotationdb.Region {
	id := www.ParseID(params.ByName("id"))
	region, err := s.DB.GetRegion(id)
	if errors.Is(err, annotationdb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	return region
}
