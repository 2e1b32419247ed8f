package background

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/retrace/protocol"
)

const maxBody = 1 << 20

// Handler returns the settings surface: JSON routes plus MCP at /mcp.
// Settings changes go through the protocol router like any other
// context's messages.
func (s *Service) Handler(mcpSrv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, apiHeaders, requestContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		tabs := 0
		if s.tabs != nil {
			tabs = s.tabs.Count()
		}
		writeJSON(w, 200, map[string]any{"status": "ok", "tabs": tabs})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(s.token))

		r.Get("/v1/settings", func(w http.ResponseWriter, req *http.Request) {
			s.dispatch(w, req, protocol.Sender{}, protocol.Envelope{Type: protocol.GetSettings})
		})

		r.Patch("/v1/settings", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
			if err != nil {
				writeError(w, 400, err)
				return
			}
			s.dispatch(w, req, protocol.Sender{}, protocol.Envelope{Type: protocol.UpdateSettings, Payload: body})
		})

		r.Post("/v1/settings/sites", func(w http.ResponseWriter, req *http.Request) {
			var body siteToggle
			if err := json.NewDecoder(io.LimitReader(req.Body, maxBody)).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			out, err := s.toggleSite(req.Context(), body)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, out)
		})

		r.Post("/v1/tabs/{tabID}/messages", func(w http.ResponseWriter, req *http.Request) {
			tabID, err := strconv.Atoi(chi.URLParam(req, "tabID"))
			if err != nil || tabID < 0 {
				writeError(w, 400, errors.New("invalid tab id"))
				return
			}
			from := protocol.Sender{TabID: tabID}
			if ws := req.URL.Query().Get("window"); ws != "" {
				win, err := strconv.Atoi(ws)
				if err != nil {
					writeError(w, 400, errors.New("invalid window id"))
					return
				}
				from.WindowID = &win
			}
			var env protocol.Envelope
			if err := json.NewDecoder(io.LimitReader(req.Body, maxBody)).Decode(&env); err != nil {
				writeError(w, 400, err)
				return
			}
			s.dispatch(w, req, from, env)
		})

		if mcpSrv != nil {
			h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
			r.Handle("/mcp", h)
			r.Handle("/mcp/*", h)
		}
	})

	return r
}

// dispatch writes the router's reply verbatim. Protocol failures are
// replies too, so the status is always 200.
func (s *Service) dispatch(w http.ResponseWriter, req *http.Request, from protocol.Sender, env protocol.Envelope) {
	reply, err := s.router.Dispatch(req.Context(), from, env)
	if err != nil {
		s.logger.Debug("background: http dispatch", "type", env.Type, "tab", from.TabID, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	w.Write(reply)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
