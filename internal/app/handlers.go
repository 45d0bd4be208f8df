package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/large-farva/rotortrack/internal/control"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotor"
	"github.com/large-farva/rotortrack/internal/scheduler"
)

// ---------------------------------------------------------------------------
// Query handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	if n := len(a.pred.Catalog()); n == 0 {
		checks["catalog"] = map[string]any{"ok": false, "error": "no TLE catalog loaded"}
		allOK = false
	} else {
		checks["catalog"] = map[string]any{"ok": true, "satellites": n}
	}

	info := a.tle.CacheInfo()
	checks["tle_cache"] = map[string]any{"ok": info.Fresh, "age_s": info.AgeS, "fresh": info.Fresh}
	if !info.Fresh {
		allOK = false
	}

	if rc, ok := a.engine.Rotor(); ok {
		checks["rotor"] = map[string]any{"ok": true, "name": rc.Name, "addr": rc.Addr()}
	} else {
		checks["rotor"] = map[string]any{"ok": false, "error": "no rotor selected"}
		allOK = false
	}

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := a.engine.State()
	resp := map[string]any{
		"name":           "rotortrack",
		"state":          a.state.Load().(string),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"demo_enabled":   a.cfg.Demo.Enabled,
		"control":        st,
		"station":        a.pred.Station(),
		"ws_clients":     a.wsHub.Clients(),
	}
	if st.Pass != nil {
		resp["pass"] = passJSON{
			NoradID:     st.Pass.NoradID,
			AOS:         st.Pass.AOS.UTC().Format(time.RFC3339),
			LOS:         st.Pass.LOS.UTC().Format(time.RFC3339),
			AOSAz:       st.Pass.AOSAz,
			LOSAz:       st.Pass.LOSAz,
			MaxEl:       st.Pass.MaxEl,
			MaxElevTime: st.Pass.MaxElTime.UTC().Format(time.RFC3339),
			DurationS:   int(st.Pass.LOS.Sub(st.Pass.AOS).Seconds()),
		}
	}
	if du := diskUsage(a.cfg.TLE.CacheDir); du != nil {
		resp["cache_disk"] = du
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"commit":     Commit,
		"go_version": runtime.Version(),
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

func (a *App) handleRotors(w http.ResponseWriter, _ *http.Request) {
	names, err := a.rotors.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	resp := map[string]any{
		"dir":    a.rotors.Dir(),
		"rotors": names,
	}
	if rc, ok := a.engine.Rotor(); ok {
		resp["selected"] = rc
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleSatellites(w http.ResponseWriter, _ *http.Request) {
	type satJSON struct {
		Name       string  `json:"name"`
		NoradID    int     `json:"norad_id"`
		Queued     bool    `json:"queued"`
		Slot       int     `json:"slot,omitempty"`
		MinContact float64 `json:"min_contact_seconds,omitempty"`
	}

	st := a.engine.State()
	slots := make(map[int]int, len(st.Queue))
	for i, id := range st.Queue {
		slots[id] = i + 1
	}

	cat := a.pred.Catalog()
	sats := make([]satJSON, 0, len(cat))
	for id, e := range cat {
		s := satJSON{Name: e.Name, NoradID: id, MinContact: st.MinContact[id]}
		s.Slot, s.Queued = slots[id]
		sats = append(sats, s)
	}
	sort.Slice(sats, func(i, j int) bool { return sats[i].NoradID < sats[j].NoradID })
	writeJSON(w, http.StatusOK, map[string]any{"satellites": sats})
}

func (a *App) handlePasses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var ids []int
	if v := q.Get("norad_id"); v != "" {
		for _, f := range strings.Split(v, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				jsonError(w, fmt.Sprintf("invalid norad_id %q", f), http.StatusBadRequest)
				return
			}
			ids = append(ids, id)
		}
	} else {
		ids = a.engine.State().Queue
	}

	hours := 24.0
	if v := q.Get("hours"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h <= 0 || h > 240 {
			jsonError(w, "hours must be in (0, 240]", http.StatusBadRequest)
			return
		}
		hours = h
	}
	minElev := 0.0
	if v := q.Get("min_elev"); v != "" {
		e, err := strconv.ParseFloat(v, 64)
		if err != nil {
			jsonError(w, "invalid min_elev", http.StatusBadRequest)
			return
		}
		minElev = e
	}

	passes, err := a.pred.ListPasses(ids, a.clock(), time.Duration(hours*float64(time.Hour)), minElev)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 && n < len(passes) {
		passes = passes[:n]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"passes":  passesToJSON(passes),
		"station": a.pred.Station(),
	})
}

func (a *App) handleTLEInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.tle.CacheInfo())
}

// ---------------------------------------------------------------------------
// Control handlers
// ---------------------------------------------------------------------------

func (a *App) handleEngage(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Engage(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	a.syncState()
	a.emit("info", "rotor engaged")
	writeOK(w, "engaged")
}

func (a *App) handleDisengage(w http.ResponseWriter, _ *http.Request) {
	if err := a.engine.Disengage(); err != nil {
		writeEngineError(w, err)
		return
	}
	a.syncState()
	a.emit("info", "rotor disengaged")
	writeOK(w, "disengaged")
}

func (a *App) handleTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.engine.SetTracking(req.Enabled)
	a.syncState()
	if req.Enabled {
		writeOK(w, "tracking enabled")
	} else {
		writeOK(w, "tracking disabled")
	}
}

func (a *App) handleRotor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.SelectRotor(req.Name); err != nil {
		writeEngineError(w, err)
		return
	}
	a.emit("info", "rotor "+req.Name+" selected")
	writeOK(w, "rotor "+req.Name+" selected")
}

func (a *App) handleTolerance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Degrees float64 `json:"degrees"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.SetTolerance(req.Degrees); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("tolerance set to %.2f°", req.Degrees))
}

func (a *App) handlePeriod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Milliseconds int `json:"milliseconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	d := time.Duration(req.Milliseconds) * time.Millisecond
	if err := a.engine.SetPeriod(d); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "period set to "+d.String())
}

func (a *App) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Az float64 `json:"az"`
		El float64 `json:"el"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.engine.SetManual(req.Az, req.El)
	writeOK(w, fmt.Sprintf("setpoint %.2f° / %.2f°", req.Az, req.El))
}

func (a *App) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoradID int `json:"norad_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.Enqueue(req.NoradID); err != nil {
		writeEngineError(w, err)
		return
	}
	a.broadcastQueue(req.NoradID)
	a.syncState()
	writeOK(w, fmt.Sprintf("satellite %d queued", req.NoradID))
}

func (a *App) handleDequeue(w http.ResponseWriter, r *http.Request) {
	// The route pattern only admits digits.
	id, _ := strconv.Atoi(mux.Vars(r)["norad_id"])
	if err := a.engine.Dequeue(id); err != nil {
		writeEngineError(w, err)
		return
	}
	a.broadcastQueue(id)
	a.syncState()
	writeOK(w, fmt.Sprintf("satellite %d removed", id))
}

func (a *App) handleMinContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoradID int     `json:"norad_id"`
		Seconds float64 `json:"seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.SetMinContact(req.NoradID, req.Seconds); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("min contact for %d set to %.0fs", req.NoradID, req.Seconds))
}

func (a *App) handleStation(w http.ResponseWriter, r *http.Request) {
	var loc predict.Location
	if !decode(w, r, &loc) {
		return
	}
	payload, _ := json.Marshal(loc)
	a.sendRunnerCommand(w, r, "station", payload)
}

func (a *App) handleTLERefresh(w http.ResponseWriter, r *http.Request) {
	a.sendRunnerCommand(w, r, "tle_refresh", nil)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sendRunnerCommand hands a command to the upkeep runner and writes its
// reply. The runner handles commands between sleeps, so this can wait for a
// TLE download.
func (a *App) sendRunnerCommand(w http.ResponseWriter, r *http.Request, cmdType string, payload json.RawMessage) {
	reply := make(chan scheduler.CommandResult, 1)
	cmd := scheduler.Command{Type: cmdType, Payload: payload, Reply: reply}
	select {
	case a.runner.Commands <- cmd:
	case <-r.Context().Done():
		jsonError(w, "scheduler busy", http.StatusServiceUnavailable)
		return
	}
	select {
	case res := <-reply:
		writeCommandResult(w, res)
	case <-r.Context().Done():
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeEngineError maps control errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, control.ErrOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, control.ErrNotQueued),
		errors.Is(err, predict.ErrUnknownSatellite),
		errors.Is(err, rotor.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, control.ErrNoRotor),
		errors.Is(err, control.ErrEngaged),
		errors.Is(err, control.ErrNotEngaged),
		errors.Is(err, control.ErrAlreadyQueued):
		code = http.StatusConflict
	}
	jsonError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": msg})
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a scheduler.CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result scheduler.CommandResult) {
	code := http.StatusOK
	if !result.OK {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}

type passJSON struct {
	Satellite   string  `json:"satellite,omitempty"`
	NoradID     int     `json:"norad_id"`
	AOS         string  `json:"aos"`
	LOS         string  `json:"los"`
	AOSAz       float64 `json:"aos_azimuth"`
	LOSAz       float64 `json:"los_azimuth"`
	MaxEl       float64 `json:"max_elev"`
	MaxElevTime string  `json:"max_elev_time,omitempty"`
	DurationS   int     `json:"duration_s"`
}

func passesToJSON(passes []predict.PassSummary) []passJSON {
	result := make([]passJSON, len(passes))
	for i, p := range passes {
		result[i] = passJSON{
			Satellite:   p.Name,
			NoradID:     p.NoradID,
			AOS:         p.AOS.UTC().Format(time.RFC3339),
			LOS:         p.LOS.UTC().Format(time.RFC3339),
			AOSAz:       p.AOSAzimuth,
			LOSAz:       p.LOSAzimuth,
			MaxEl:       p.MaxElev,
			MaxElevTime: p.MaxElevTime.UTC().Format(time.RFC3339),
			DurationS:   int(p.Duration.Seconds()),
		}
	}
	return result
}
