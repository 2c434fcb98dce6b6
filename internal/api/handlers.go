package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/gateway"
)

// pathID parses a numeric path parameter. A malformed value is reported the
// same way as an out-of-range one.
func pathID(w http.ResponseWriter, r *http.Request, param, field string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil {
		writeInvalidID(w, field)
		return 0, false
	}
	return v, true
}

// readBody reads a write request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large", "")
			return nil, false
		}
		writeBadRequest(w, "reading request body failed")
		return nil, false
	}
	return body, true
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	base, ok := pathID(w, r, "base", addrmap.IDBase)
	if !ok {
		return
	}
	zone, ok := pathID(w, r, "zone", addrmap.IDZone)
	if !ok {
		return
	}
	z, err := s.gateway.ReadZone(base, zone)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *Server) handleSetZone(w http.ResponseWriter, r *http.Request) {
	base, ok := pathID(w, r, "base", addrmap.IDBase)
	if !ok {
		return
	}
	zone, ok := pathID(w, r, "zone", addrmap.IDZone)
	if !ok {
		return
	}
	// Reject bad identifiers before looking at the body.
	if _, err := addrmap.Zone(base, zone); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	write, err := gateway.DecodeZoneWrite(body)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if err := s.gateway.WriteZone(base, zone, write); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.logWrite(r, "zone", "base", base, "zone", zone)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleGetMixedGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", addrmap.IDGroup)
	if !ok {
		return
	}
	g, err := s.gateway.ReadMixedGroup(id)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGetOutsideTemperature(w http.ResponseWriter, r *http.Request) {
	o, err := s.gateway.ReadOutsideTemperature()
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.gateway.ReadNotifications()
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	m, err := s.gateway.ReadMode()
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	mode, err := gateway.DecodeModeWrite(body)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if err := s.gateway.WriteMode(mode); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.logWrite(r, "mode", "mode", mode)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.gateway.ReadState()
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	state, err := gateway.DecodeStateWrite(body)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if err := s.gateway.WriteState(state); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	s.logWrite(r, "globalstate", "state", state)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleGetDehumidifier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", addrmap.IDDehumidifier)
	if !ok {
		return
	}
	d, err := s.gateway.ReadDehumidifier(id)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetPump(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", addrmap.IDPump)
	if !ok {
		return
	}
	p, err := s.gateway.ReadPump(id)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetPlant returns every entity from one consistent read.
func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	p, err := s.gateway.Snapshot()
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// logWrite records an accepted write and who made it. Without JWT auth the
// subject is "anonymous".
func (s *Server) logWrite(r *http.Request, entity string, attrs ...any) {
	subject := "anonymous"
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	args := append([]any{
		"entity", entity,
		"subject", subject,
		"request_id", r.Context().Value(ctxKeyRequestID),
	}, attrs...)
	s.logger.Info("write accepted", args...)
}
